package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "cli.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	require.NotNil(t, cfg.PrettyJSON)
	assert.True(t, *cfg.PrettyJSON)
	assert.NotEmpty(t, cfg.TokenStatePath)

	_, err = Load(filepath.Join(t.TempDir(), "cli.yaml"), true)
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baseURL: http://box:9000\ntimeout: 5s\nprettyJSON: false\n"), 0o600))

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "http://box:9000", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.False(t, *cfg.PrettyJSON)

	require.NoError(t, os.WriteFile(path, []byte("timeout: [\n"), 0o600))
	_, err = Load(path, true)
	require.Error(t, err)
}
