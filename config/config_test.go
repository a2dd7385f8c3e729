package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_PORT", "CONSOLIDATION_TIME", "SYNC_INTERVAL", "LOG_RETENTION_DAYS"} {
		t.Setenv(k, "")
	}

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "23:45", cfg.ConsolidationTime)
	assert.Equal(t, time.Duration(0), cfg.SyncInterval)
	assert.Equal(t, 15, cfg.LogRetentionDays)
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsEnvFile(t *testing.T) {
	// GIVEN a .env file with a custom port and a variable not yet set
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9090\nHALF_DAY_LEAVE_TYPE=Annual Leave\n"), 0o600))
	t.Setenv("HTTP_PORT", "")
	t.Setenv("HALF_DAY_LEAVE_TYPE", "")
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("HALF_DAY_LEAVE_TYPE")

	// WHEN config is loaded
	cfg, err := Load(path)

	// THEN file values apply
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "Annual Leave", cfg.HalfDayLeaveType)
}

func TestLoadIgnoresMissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			HTTPPort:          8080,
			DatabasePath:      "x.db",
			Environment:       EnvDevelopment,
			ConsolidationTime: "23:45",
			LogRetentionDays:  15,
			JWTTTL:            time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"production needs secret", func(c *Config) { c.Environment = EnvProduction }, "JWT_SECRET"},
		{"bad consolidation time", func(c *Config) { c.ConsolidationTime = "25:00" }, "CONSOLIDATION_TIME"},
		{"negative interval", func(c *Config) { c.SyncInterval = -time.Minute }, "SYNC_INTERVAL"},
		{"missing db", func(c *Config) { c.DatabasePath = "" }, "DATABASE_PATH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("nonsense").String())
}
