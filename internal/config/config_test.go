package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matchdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MATCHDB_DATABASE", "MATCHDB_TRACK_HISTORY", "MATCHDB_USER_ID",
		"MATCHDB_LOG_LEVEL", "MATCHDB_STATEMENT_CACHE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Database)
	assert.False(t, cfg.TrackHistory)
	assert.Equal(t, int64(0), cfg.UserID)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 64, cfg.StatementCacheSize)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database: "matches.db"
track_history: true
user_id: 7
log_level: info
statement_cache_size: 16
`)
	t.Setenv("MATCHDB_USER_ID", "12")
	t.Setenv("MATCHDB_DATABASE", "postgres://u@db/matches")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@db/matches", cfg.Database)
	assert.True(t, cfg.TrackHistory)
	assert.Equal(t, int64(12), cfg.UserID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 16, cfg.StatementCacheSize)

	l, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "log_level: loud\n"))
	assert.ErrorContains(t, err, "log_level")
}

func TestCacheSize(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, "statement_cache_size: -1\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.CacheSize())

	// Zero is indistinguishable from unset and takes the default.
	cfg, err = Load(writeConfig(t, "statement_cache_size: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.CacheSize())
}

func TestUsage_ListsVariables(t *testing.T) {
	u := Usage()
	assert.Contains(t, u, "MATCHDB_DATABASE")
	assert.Contains(t, u, "MATCHDB_STATEMENT_CACHE")
}
