package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codexec/internal/common/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml"), false, "")
	require.NoError(t, err)

	assert.Equal(t, defaultMainPort, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:18080", cfg.Server.addr())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, defaultMetricsPort, cfg.Metrics.Port)
	assert.Equal(t, int64(1), cfg.Execution.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Execution.RequestTimeout)
	assert.Equal(t, time.Second, cfg.Sandbox.Limits.CPUTime)
	assert.Equal(t, time.Second, cfg.Sandbox.WallTimeout)
	assert.Equal(t, "sandbox-init", cfg.Sandbox.HelperPath)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, ratelimit.BackendLocal, cfg.RateLimit.Backend)
}

func TestLoadAppConfigRequiredFileMissing(t *testing.T) {
	_, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml"), true, "")
	require.Error(t, err)
}

func TestLoadAppConfigFromYAML(t *testing.T) {
	path := writeFile(t, "codexec.yaml", `
server:
  port: 9090
metrics:
  enabled: false
execution:
  maxConcurrent: 4
  requestTimeout: 10s
sandbox:
  wallTimeout: 3s
  limits:
    cpuTime: 2s
    addressSpaceBytes: 209715200
rateLimit:
  enabled: true
  backend: redis
redis:
  addr: "127.0.0.1:6379"
`)
	cfg, err := loadAppConfig(path, true, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, int64(4), cfg.Execution.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Limits.CPUTime)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.WallTimeout)
	assert.Equal(t, uint64(200<<20), cfg.Sandbox.Limits.AddressSpaceBytes)
	assert.Equal(t, ratelimit.BackendRedis, cfg.RateLimit.Backend)
}

func TestLoadAppConfigRejectsBadYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "server: [")
	_, err := loadAppConfig(path, false, "")
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"MAIN_PORT":            "8081",
		"METRICS_PORT":         "8001",
		"SERVER_HOST":          "127.0.0.1",
		"LOG_LEVEL":            "DEBUG",
		"MAX_WORKERS":          "3",
		"TIMEOUT":              "45",
		"CODEXEC_CPU_TIME":     "1500ms",
		"CODEXEC_MEMORY_BYTES": "52428800",
		"CODEXEC_AUTH_ENABLED": "true",
		"CODEXEC_JWT_SECRET":   "k",
	}
	var cfg AppConfig
	require.NoError(t, applyEnvOverrides(&cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 8001, cfg.Metrics.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, int64(3), cfg.Execution.MaxConcurrent)
	assert.Equal(t, 45*time.Second, cfg.Execution.RequestTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Sandbox.Limits.CPUTime)
	assert.Equal(t, uint64(50<<20), cfg.Sandbox.Limits.AddressSpaceBytes)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "k", cfg.Auth.Secret)
}

func TestApplyEnvOverridesReportsBadValues(t *testing.T) {
	env := map[string]string{
		"MAIN_PORT":            "http",
		"TIMEOUT":              "soon",
		"CODEXEC_MEMORY_BYTES": "-1",
	}
	var cfg AppConfig
	err := applyEnvOverrides(&cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAIN_PORT")
	assert.Contains(t, err.Error(), "TIMEOUT")
	assert.Contains(t, err.Error(), "CODEXEC_MEMORY_BYTES")
}

func TestLoadAppConfigEnvFile(t *testing.T) {
	envPath := writeFile(t, ".env", "MAX_WORKERS=6\n")
	require.NoError(t, os.Unsetenv("MAX_WORKERS"))
	t.Cleanup(func() { _ = os.Unsetenv("MAX_WORKERS") })

	cfg, err := loadAppConfig("", false, envPath)
	require.NoError(t, err)
	assert.Equal(t, int64(6), cfg.Execution.MaxConcurrent)
}

func TestValidateConfig(t *testing.T) {
	base := func() *AppConfig {
		cfg, err := loadAppConfig("", false, "")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Metrics.Port = cfg.Server.Port
	assert.Error(t, validateConfig(cfg))

	cfg = base()
	cfg.Execution.RequestTimeout = 500 * time.Millisecond
	assert.Error(t, validateConfig(cfg))

	cfg = base()
	cfg.Auth.Enabled = true
	assert.Error(t, validateConfig(cfg))

	cfg = base()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Backend = ratelimit.BackendRedis
	assert.Error(t, validateConfig(cfg))

	cfg = base()
	cfg.Sandbox.EnableCgroup = true
	assert.Error(t, validateConfig(cfg))

	cfg = base()
	cfg.Server.Port = 70000
	assert.Error(t, validateConfig(cfg))
}

func TestResolveHelperPath(t *testing.T) {
	assert.Equal(t, "/opt/bin/sandbox-init", resolveHelperPath("/opt/bin/sandbox-init"))
	assert.Equal(t, "definitely-not-installed-helper", resolveHelperPath("definitely-not-installed-helper"))
}
