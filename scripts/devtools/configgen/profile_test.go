package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"codexec/internal/sandbox/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const baseConfig = `server:
  port: 18080
  readTimeout: 5s
auth:
  enabled: false
  issuer: codexec
redis:
  addr: 127.0.0.1:6379
sandbox:
  limits:
    cpuTime: 1s
    processes: 1
`

func writeProfile(t *testing.T, dir, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(baseConfig), 0o644))
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func readYAML(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &out))
	return out
}

func TestGenerateMergesOverridesAndShared(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, `outputDir: out
base: base.yaml
shared:
  jwtSecret: s3cret
  redisAddr: redis:6379
seccomp:
  output: seccomp.json
deployments:
  prod:
    overrides:
      auth:
        enabled: true
      sandbox:
        limits:
          cpuTime: 2s
  dev:
    output: dev.yaml
`)

	profile, err := loadProfile(path)
	require.NoError(t, err)
	profile.resolvePaths(dir)

	written, err := generate(profile)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "out", "dev.yaml"),
		filepath.Join(dir, "out", "codexec-prod.yaml"),
		filepath.Join(dir, "out", "seccomp.json"),
	}, written)

	prod := readYAML(t, written[1])
	authSection := prod["auth"].(map[string]interface{})
	assert.Equal(t, true, authSection["enabled"])
	assert.Equal(t, "s3cret", authSection["secret"])
	assert.Equal(t, "codexec", authSection["issuer"])
	assert.Equal(t, "redis:6379", prod["redis"].(map[string]interface{})["addr"])
	limitsSection := prod["sandbox"].(map[string]interface{})["limits"].(map[string]interface{})
	assert.Equal(t, "2s", limitsSection["cpuTime"])
	assert.Equal(t, 1, limitsSection["processes"])

	dev := readYAML(t, written[0])
	assert.Equal(t, false, dev["auth"].(map[string]interface{})["enabled"])

	data, err := os.ReadFile(written[2])
	require.NoError(t, err)
	var seccomp security.SeccompConfig
	require.NoError(t, json.Unmarshal(data, &seccomp))
	assert.NoError(t, seccomp.Validate())
	assert.Equal(t, security.DefaultSeccompConfig(), seccomp)
}

func TestLoadProfileRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	_, err := loadProfile(writeProfile(t, dir, "outputDir: out\nbase: base.yaml\n"))
	assert.Error(t, err)

	_, err = loadProfile(writeProfile(t, dir, "outputDir: out\ndeployments:\n  dev: {}\n"))
	assert.Error(t, err)
}

func TestMergeMapReplacesScalars(t *testing.T) {
	merged, err := mergeMap(
		map[string]interface{}{"a": map[string]interface{}{"b": 1, "c": 2}, "d": "x"},
		map[string]interface{}{"a": map[string]interface{}{"b": 3}, "d": map[string]interface{}{"e": 1}},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"b": 3, "c": 2},
		"d": map[string]interface{}{"e": 1},
	}, merged)

	_, err = mergeMap([]interface{}{}, map[string]interface{}{})
	assert.Error(t, err)
}
