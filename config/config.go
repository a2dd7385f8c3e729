/*
config.go - Environment configuration

PURPOSE:
  Loads service settings from the process environment, optionally seeded
  from a .env file, and builds the structured logger every component
  receives.

SOURCES (later wins):
  1. Built-in defaults (see Load)
  2. .env file in the working directory, when present
  3. Process environment
  4. cobra flags on the serve command (--db, --port)

KEY GROUPS:
  Service:     HTTP_PORT, DATABASE_PATH, APP_ENV, ALLOWED_ORIGINS
  Auth:        JWT_SECRET, JWT_ISSUER, JWT_TTL
  Logging:     LOG_LEVEL, LOG_FORMAT
  CrossChex:   CROSSCHEX_API_URL, CROSSCHEX_API_KEY, CROSSCHEX_API_SECRET,
               SYNC_LOOKBACK, HTTP_CLIENT_TIMEOUT
  Scheduler:   SCHEDULER_ENABLED, SYNC_INTERVAL, TOKEN_REFRESH_INTERVAL,
               CONSOLIDATION_TIME, CLEANUP_INTERVAL, LOG_RETENTION_DAYS
  Attendance:  HALF_DAY_LATE_THRESHOLD, HALF_DAY_LEAVE_TYPE,
               REALTIME_REGULARIZATION

SEE ALSO:
  - cmd/hamptons/main.go: calls Load and Validate before every command
  - api/scheduler.go: consumes the scheduler keys
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hamptons/attendance-engine/attendance"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	HTTPPort       int
	DatabasePath   string
	Environment    string
	AllowedOrigins []string

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	LogLevel  string
	LogFormat string

	CrossChexAPIURL    string
	CrossChexAPIKey    string
	CrossChexAPISecret string
	SyncLookback       time.Duration
	HTTPClientTimeout  time.Duration

	SchedulerEnabled     bool
	SyncInterval         time.Duration
	TokenRefreshInterval time.Duration
	ConsolidationTime    string
	CleanupInterval      time.Duration
	LogRetentionDays     int

	HalfDayLateThreshold   time.Duration
	HalfDayLeaveType       string
	RealtimeRegularization bool
}

// Load reads envFile (ignored when missing) and then the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	return Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		DatabasePath:   getEnv("DATABASE_PATH", "hamptons.db"),
		Environment:    getEnv("APP_ENV", EnvDevelopment),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "hamptons"),
		JWTTTL:    getEnvDuration("JWT_TTL", 24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		CrossChexAPIURL:    getEnv("CROSSCHEX_API_URL", ""),
		CrossChexAPIKey:    getEnv("CROSSCHEX_API_KEY", ""),
		CrossChexAPISecret: getEnv("CROSSCHEX_API_SECRET", ""),
		SyncLookback:       getEnvDuration("SYNC_LOOKBACK", 365*24*time.Hour),
		HTTPClientTimeout:  getEnvDuration("HTTP_CLIENT_TIMEOUT", 30*time.Second),

		SchedulerEnabled:     getEnvBool("SCHEDULER_ENABLED", true),
		SyncInterval:         getEnvDuration("SYNC_INTERVAL", 0),
		TokenRefreshInterval: getEnvDuration("TOKEN_REFRESH_INTERVAL", time.Hour),
		ConsolidationTime:    getEnv("CONSOLIDATION_TIME", "23:45"),
		CleanupInterval:      getEnvDuration("CLEANUP_INTERVAL", 120*time.Hour),
		LogRetentionDays:     getEnvInt("LOG_RETENTION_DAYS", 15),

		HalfDayLateThreshold:   getEnvDuration("HALF_DAY_LATE_THRESHOLD", 0),
		HalfDayLeaveType:       getEnv("HALF_DAY_LEAVE_TYPE", ""),
		RealtimeRegularization: getEnvBool("REALTIME_REGULARIZATION", false),
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Environment == EnvProduction && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if _, err := c.ConsolidationClock(); err != nil {
		return fmt.Errorf("CONSOLIDATION_TIME must be HH:MM: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"SYNC_INTERVAL":           c.SyncInterval,
		"TOKEN_REFRESH_INTERVAL":  c.TokenRefreshInterval,
		"CLEANUP_INTERVAL":        c.CleanupInterval,
		"HALF_DAY_LATE_THRESHOLD": c.HalfDayLateThreshold,
		"SYNC_LOOKBACK":           c.SyncLookback,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.LogRetentionDays <= 0 {
		return fmt.Errorf("LOG_RETENTION_DAYS must be positive")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	return nil
}

// ConsolidationClock parses CONSOLIDATION_TIME.
func (c Config) ConsolidationClock() (attendance.Clock, error) {
	return attendance.ParseClock(c.ConsolidationTime)
}

// AuthEnabled reports whether the admin API requires a bearer token.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
