package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelRCrider/csp-classify/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
rules_path: rules.yaml
workers: 8
regex_timeout: 250ms
mcp:
  rate_limit_per_minute: 10
`), 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "rules.yaml", cfg.RulesPath)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.RegexTimeout)
	assert.Equal(t, 10, cfg.MCP.RateLimitPerMinute)
	assert.Equal(t, 1024, cfg.PatternCacheSize, "unset keys keep defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0600))

	t.Setenv("CLASSIFY_WORKERS", "16")
	t.Setenv("CLASSIFY_DB_PATH", "/tmp/classify.db")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, "/tmp/classify.db", cfg.DBPath)
}

func TestApplyEnvErrors(t *testing.T) {
	t.Parallel()

	tcs := map[string]map[string]string{
		"bad int":      {"CLASSIFY_WORKERS": "many"},
		"bad duration": {"CLASSIFY_REGEX_TIMEOUT": "soon"},
	}

	for name, env := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			err := cfg.ApplyEnv(func(k string) (string, bool) {
				v, ok := env[k]
				return v, ok
			})
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Workers = 0
	cfg.RegexTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "regex_timeout")

	cfg = config.Default()
	cfg.Retention.ResultDays = 30
	require.NoError(t, cfg.Validate())

	cfg.Retention.Schedule = "whenever"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention.schedule")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := config.Default()
	cfg.AuditLogPath = "audit/classify.log"
	require.NoError(t, config.Save(cfg, path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
