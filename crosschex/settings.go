package crosschex

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StatusNotTested = "Not Tested"
	StatusConnected = "Connected"
	StatusFailed    = "Error"

	// DefaultLogRetentionDays applies when settings leave it unset.
	DefaultLogRetentionDays = 30

	// tokenRefreshMargin is how long before expiry a token is replaced.
	tokenRefreshMargin = 30 * time.Minute
)

var (
	ErrSyncDisabled       = errors.New("CrossChex sync is not enabled")
	ErrMissingCredentials = errors.New("API Key and Secret not configured")
	ErrInvalidSettings    = errors.New("invalid CrossChex settings")
)

// Settings is the singleton integration configuration.
type Settings struct {
	Enabled            bool       `json:"enabled"`
	APIURL             string     `json:"api_url"`
	APIKey             string     `json:"api_key"`
	APISecret          string     `json:"-"`
	Token              string     `json:"-"`
	TokenExpires       *time.Time `json:"token_expires,omitempty"`
	ConnectionStatus   string     `json:"connection_status"`
	LastTokenGenerated *time.Time `json:"last_token_generated,omitempty"`
	LastSyncTime       *time.Time `json:"last_sync_time,omitempty"`
	LastSyncStatus     string     `json:"last_sync_status,omitempty"`
	LogRetentionDays   int        `json:"log_retention_days"`
}

// Validate checks required fields and normalises the URL.
func (s *Settings) Validate() error {
	if s.Enabled {
		switch {
		case strings.TrimSpace(s.APIKey) == "":
			return fmt.Errorf("%w: API Key is required when sync is enabled", ErrInvalidSettings)
		case strings.TrimSpace(s.APISecret) == "":
			return fmt.Errorf("%w: API Secret is required when sync is enabled", ErrInvalidSettings)
		case strings.TrimSpace(s.APIURL) == "":
			return fmt.Errorf("%w: API URL is required when sync is enabled", ErrInvalidSettings)
		}
	}
	if s.APIURL != "" && !strings.HasSuffix(s.APIURL, "/") {
		s.APIURL += "/"
	}
	if s.LogRetentionDays <= 0 {
		s.LogRetentionDays = DefaultLogRetentionDays
	}
	return nil
}

// URL returns the API URL or the public default.
func (s Settings) URL() string {
	if s.APIURL == "" {
		return DefaultAPIURL
	}
	return s.APIURL
}

func (s Settings) HasCredentials() bool {
	return s.APIKey != "" && s.APISecret != ""
}

// CredentialsChanged reports whether next uses a different key or secret.
func (s Settings) CredentialsChanged(next Settings) bool {
	return s.APIKey != next.APIKey || s.APISecret != next.APISecret
}

// ResetToken forgets the token and marks the connection untested.
func (s *Settings) ResetToken() {
	s.Token = ""
	s.TokenExpires = nil
	s.ConnectionStatus = StatusNotTested
}

// NeedsRefresh reports whether the token is missing, has no known expiry or
// expires within the next 30 minutes.
func (s Settings) NeedsRefresh(now time.Time) bool {
	if s.Token == "" || s.TokenExpires == nil {
		return true
	}
	return !s.TokenExpires.After(now.Add(tokenRefreshMargin))
}

// Retention returns how long CrossChex logs are kept.
func (s Settings) Retention() time.Duration {
	days := s.LogRetentionDays
	if days <= 0 {
		days = DefaultLogRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}
