package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_PROFILE", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBProfile)
	assert.Equal(t, "utf-8", cfg.ExportEncoding)
	assert.Equal(t, 1000, cfg.ExportDefaultLimit)
	assert.Equal(t, 10*time.Minute, cfg.StatsCacheTTL)
	assert.False(t, cfg.CacheEnabled())
}

func TestValidateFillsBlankProfileAndLevel(t *testing.T) {
	cfg := &Config{DBProfile: "  ", ExportDefaultLimit: 10}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverSQLite, cfg.DBProfile)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "utf-8", cfg.ExportEncoding)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DB_PROFILE", " MySQL ")
	t.Setenv("EXPORT_ENCODING", "cp1252")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6380")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.local,http://b.local")
	t.Setenv("APP_TIMEZONE", "America/Argentina/Buenos_Aires")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, cfg.DBProfile)
	assert.Equal(t, "windows-1252", cfg.ExportEncoding)
	assert.True(t, cfg.CacheEnabled())
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.CORSAllowedOrigins)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Argentina/Buenos_Aires", loc.String())

	driver, dsn := cfg.MigrationTarget()
	assert.Equal(t, "mysql", driver)
	assert.Equal(t, cfg.MySQLDSN, dsn)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"profile":  {"DB_PROFILE", "oracle"},
		"encoding": {"EXPORT_ENCODING", "ebcdic"},
		"level":    {"LOG_LEVEL", "chatty"},
		"zone":     {"APP_TIMEZONE", "Mars/Olympus"},
		"limit":    {"EXPORT_DEFAULT_LIMIT", "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "json handler")
	assert.Contains(t, out, `"msg":"shown"`)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	assert.True(t, InTestMode())

	t.Setenv(TestModeEnv, "false")
	assert.False(t, InTestMode())

	t.Setenv(TestModeEnv, "maybe")
	assert.False(t, InTestMode())
}
