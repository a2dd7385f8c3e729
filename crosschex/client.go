package crosschex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultAPIURL is used when settings carry no URL.
	DefaultAPIURL = "https://api.us.crosschexcloud.com/"

	// PerPage is the page size requested from the record API.
	PerPage = 1000

	timestampLayout = "2006-01-02T15:04:05+00:00"
	maxPages        = 10000
)

var ErrUnexpectedResponse = errors.New("unexpected crosschex response")

// APIError is a System error returned by CrossChex in place of a payload.
type APIError struct {
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type == "AUTH_ERROR" {
		return "Authentication failed. Please verify your API Key and API Secret."
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// StatusError is a non-200 HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// Token is an access token with its expiry. Expires is nil when the API
// did not send a parseable expiry.
type Token struct {
	Token   string
	Expires *time.Time
}

type Client struct {
	HTTP *http.Client
	Now  func() time.Time
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

type header struct {
	NameSpace  string `json:"nameSpace"`
	NameAction string `json:"nameAction"`
	Version    string `json:"version"`
	RequestID  string `json:"requestId"`
	Timestamp  string `json:"timestamp"`
}

type authorize struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type request struct {
	Header    header     `json:"header"`
	Authorize *authorize `json:"authorize,omitempty"`
	Payload   any        `json:"payload"`
}

type response struct {
	Header  header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// Token exchanges an API key and secret for an access token.
func (c *Client) Token(ctx context.Context, apiURL, apiKey, apiSecret string) (Token, error) {
	req := request{
		Header: c.header("authorize.token", "token"),
		Payload: map[string]string{
			"api_key":    apiKey,
			"api_secret": apiSecret,
		},
	}

	var payload struct {
		Token   string `json:"token"`
		Expires string `json:"expires"`
	}
	if err := c.do(ctx, apiURL, req, &payload); err != nil {
		return Token{}, err
	}
	if payload.Token == "" {
		return Token{}, fmt.Errorf("%w: no token in payload", ErrUnexpectedResponse)
	}

	tok := Token{Token: payload.Token}
	if exp, err := time.Parse(time.RFC3339, payload.Expires); err == nil {
		exp = exp.UTC()
		tok.Expires = &exp
	}
	return tok, nil
}

// FetchRecords pages through the attendance records in [begin, end].
func (c *Client) FetchRecords(ctx context.Context, apiURL, token string, begin, end time.Time) ([]Record, error) {
	var all []Record
	for page := 1; page <= maxPages; page++ {
		req := request{
			Header:    c.header("attendance.record", "getrecord"),
			Authorize: &authorize{Type: "token", Token: token},
			Payload: map[string]any{
				"begin_time": begin.UTC().Format(timestampLayout),
				"end_time":   end.UTC().Format(timestampLayout),
				"order":      "asc",
				"page":       page,
				"per_page":   PerPage,
			},
		}

		var payload struct {
			List      []json.RawMessage `json:"list"`
			PageCount int               `json:"pageCount"`
		}
		if err := c.do(ctx, apiURL, req, &payload); err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}

		for _, raw := range payload.List {
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return all, fmt.Errorf("page %d: decode record: %w", page, err)
			}
			all = append(all, rec)
		}

		if len(payload.List) < PerPage || (payload.PageCount > 0 && page >= payload.PageCount) {
			break
		}
	}
	return all, nil
}

func (c *Client) do(ctx context.Context, apiURL string, in request, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	var env response
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if env.Header.NameSpace == "System" {
		var e struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(env.Payload, &e)
		if e.Type == "" {
			e.Type = "Unknown"
		}
		if e.Message == "" {
			e.Message = "Unknown error"
		}
		return &APIError{Type: e.Type, Message: e.Message}
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUnexpectedResponse)
	}
	return json.Unmarshal(env.Payload, out)
}

func (c *Client) header(namespace, action string) header {
	return header{
		NameSpace:  namespace,
		NameAction: action,
		Version:    "1.0",
		RequestID:  uuid.NewString(),
		Timestamp:  c.now().UTC().Format(timestampLayout),
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
