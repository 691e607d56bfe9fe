package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPathUsesUserConfigDir(t *testing.T) {
	expected, err := os.UserConfigDir()
	require.NoError(t, err)

	got := DefaultConfigPath()
	assert.True(t, strings.HasPrefix(got, expected) || len(expected) == 0)
	assert.Contains(t, got, "uploadengine")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.yml")
	cfg := Load(path)

	defaults := Default()
	assert.Equal(t, defaults.BaseURL, cfg.BaseURL)
	assert.Equal(t, defaults.ChunkSize, cfg.ChunkSize)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("baseUrl: https://uploads.example.com/api\nchunkSize: 1048576\n"), 0600))

	cfg := Load(path)

	assert.Equal(t, "https://uploads.example.com/api", cfg.BaseURL)
	assert.Equal(t, 1048576, cfg.ChunkSize)
	// Fields absent from the file fall back to defaults via mergo.
	assert.Equal(t, Default().MaxConcurrentUploads, cfg.MaxConcurrentUploads)
}

func TestLoadCorruptFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0600))

	cfg := Load(path)
	assert.Equal(t, Default().BaseURL, cfg.BaseURL)
}

func TestValidateRepairsOutOfRangeValues(t *testing.T) {
	cfg := Config{
		BaseURL:              "",
		ChunkSize:            -1,
		MaxConcurrentUploads: 0,
		RetryMaxAttempts:     -5,
		RetryBaseDelay:       0,
		RetryMaxDelay:        0,
	}

	require.NoError(t, Validate(&cfg))

	defaults := Default()
	assert.Equal(t, defaults.BaseURL, cfg.BaseURL)
	assert.Equal(t, defaults.ChunkSize, cfg.ChunkSize)
	assert.Equal(t, defaults.MaxConcurrentUploads, cfg.MaxConcurrentUploads)
	assert.Equal(t, defaults.RetryMaxAttempts, cfg.RetryMaxAttempts)
	assert.True(t, cfg.RetryMaxDelay >= cfg.RetryBaseDelay)
}

func TestValidateKeepsInRangeValues(t *testing.T) {
	cfg := Config{
		BaseURL:              "https://uploads.example.com",
		ChunkSize:            1024,
		MaxConcurrentUploads: 2,
		RetryMaxAttempts:     3,
		RetryBaseDelay:       time.Second,
		RetryMaxDelay:        10 * time.Second,
	}

	require.NoError(t, Validate(&cfg))

	assert.Equal(t, "https://uploads.example.com", cfg.BaseURL)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, 2, cfg.MaxConcurrentUploads)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
}
