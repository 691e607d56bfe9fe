// Package config provides the engine's configuration: base URL override,
// auto-resume flag, retry tuning, and storage paths, loaded from YAML with
// defaults merged in, following the teacher's cmd/common/config.go pattern.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/imdario/mergo"
	"gopkg.in/yaml.v3"

	"github.com/auriora/uploadengine/pkg/logging"
)

// Config holds the engine's tunables (spec.md §6 "Environment inputs" plus
// the ambient retry/storage settings this port adds).
type Config struct {
	// BaseURL is the TransportClient's base URL, e.g.
	// http://localhost:4000/api/uploads. Equivalent of REACT_APP_API_URL.
	BaseURL string `yaml:"baseUrl"`

	// AutoResumeOnReload mirrors the source's default-true "auto-resume on
	// reload" flag (spec.md §6).
	AutoResumeOnReload bool `yaml:"autoResumeOnReload"`

	// ChunkSize is a chunk size in bytes, loaded and validated here. The
	// engine does not read it: new uploads use store.DefaultChunkSize unless
	// the server's initiate response overrides it.
	ChunkSize int `yaml:"chunkSize"`

	// MaxConcurrentUploads bounds how many chunk loops may run at once
	// (SPEC_FULL.md supplemented feature, grounded on the teacher's
	// maxUploadsInFlight).
	MaxConcurrentUploads int `yaml:"maxConcurrentUploads"`

	// RetryMaxAttempts, RetryBaseDelay, RetryMaxDelay parameterize
	// RetryPolicy (spec.md §4.3).
	RetryMaxAttempts int           `yaml:"retryMaxAttempts"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay    time.Duration `yaml:"retryMaxDelay"`

	// RequestTimeout and ChunkTimeout are the TransportClient's HTTP
	// deadlines (spec.md §4.4: 30s general, 60s chunk).
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	ChunkTimeout   time.Duration `yaml:"chunkTimeout"`

	// StaleAfter is a staleness age, loaded with a 24h default. It is not
	// read by MetaStore.ClearStaleUploads, which uses its own fixed 24-hour
	// age.
	StaleAfter time.Duration `yaml:"staleAfter"`

	// MetaStorePath and BlobStorePath are the bbolt database files backing
	// MetaStore and BlobStore. They must name different files: each store
	// opens its own bbolt handle, and bbolt holds an exclusive lock on the
	// file, so a second open of the same path times out.
	MetaStorePath string `yaml:"metaStorePath"`
	BlobStorePath string `yaml:"blobStorePath"`

	// GracefulShutdownTimeout bounds how long Supervisor.Shutdown waits for
	// the resume calls it started to return before it cancels every running
	// chunk loop (grounded on the teacher's gracefulTimeout).
	GracefulShutdownTimeout time.Duration `yaml:"gracefulShutdownTimeout"`
}

// Default returns the engine's default configuration.
func Default() Config {
	stateDir, err := os.UserCacheDir()
	if err != nil {
		stateDir = "."
	}
	base := filepath.Join(stateDir, "uploadengine")

	return Config{
		BaseURL:                 "http://localhost:4000/api/uploads",
		AutoResumeOnReload:      true,
		ChunkSize:               5 * 1024 * 1024,
		MaxConcurrentUploads:    5,
		RetryMaxAttempts:        5,
		RetryBaseDelay:          1 * time.Second,
		RetryMaxDelay:           30 * time.Second,
		RequestTimeout:          30 * time.Second,
		ChunkTimeout:            60 * time.Second,
		StaleAfter:              24 * time.Hour,
		MetaStorePath:           filepath.Join(base, "meta.db"),
		BlobStorePath:           filepath.Join(base, "blobs.db"),
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// DefaultConfigPath returns the default config file location, following
// cmd/common/config.go's DefaultConfigPath.
func DefaultConfigPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		logging.Error().Err(err).Msg("could not determine configuration directory")
	}
	return filepath.Join(confDir, "uploadengine/config.yml")
}

func readConfigFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func parseConfig(data []byte) (*Config, error) {
	config := &Config{}
	err := yaml.Unmarshal(data, config)
	return config, err
}

func mergeWithDefaults(config *Config, defaults Config) error {
	return mergo.Merge(config, defaults)
}

// Validate replaces out-of-range values with their defaults, following
// cmd/common/config.go's validateConfig. It logs a warning for the base URL,
// chunk size, concurrency, retry attempt and retry max-delay fields, resets
// the rest silently, and always returns nil.
func Validate(config *Config) error {
	defaults := Default()

	if config.BaseURL == "" {
		logging.Warn().Msg("base URL cannot be empty, using default")
		config.BaseURL = defaults.BaseURL
	}
	if config.ChunkSize <= 0 {
		logging.Warn().Int("chunkSize", config.ChunkSize).Msg("chunk size must be positive, using default")
		config.ChunkSize = defaults.ChunkSize
	}
	if config.MaxConcurrentUploads <= 0 {
		logging.Warn().Int("maxConcurrentUploads", config.MaxConcurrentUploads).Msg("max concurrent uploads must be positive, using default")
		config.MaxConcurrentUploads = defaults.MaxConcurrentUploads
	}
	if config.RetryMaxAttempts < 0 {
		logging.Warn().Int("retryMaxAttempts", config.RetryMaxAttempts).Msg("retry max attempts must be non-negative, using default")
		config.RetryMaxAttempts = defaults.RetryMaxAttempts
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 || config.RetryMaxDelay < config.RetryBaseDelay {
		logging.Warn().Msg("retry max delay must be at least the base delay, using default")
		config.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if config.MetaStorePath == "" {
		config.MetaStorePath = defaults.MetaStorePath
	}
	if config.BlobStorePath == "" {
		config.BlobStorePath = defaults.BlobStorePath
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = defaults.GracefulShutdownTimeout
	}

	return nil
}

// Load reads and validates the config file at path, falling back to
// defaults if the file is absent or unreadable, matching
// cmd/common/config.go's LoadConfig: missing/corrupt config is a warning,
// not a fatal error.
func Load(path string) *Config {
	defaults := Default()

	raw, err := readConfigFile(path)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("configuration file not found, using defaults")
		return &defaults
	}

	config, err := parseConfig(raw)
	if err != nil {
		logging.Error().Err(err).Str("path", path).Msg("could not parse configuration file, using defaults")
		return &defaults
	}

	if err := mergeWithDefaults(config, defaults); err != nil {
		logging.Error().Err(err).Msg("could not merge configuration with defaults, using defaults")
		return &defaults
	}

	if err := Validate(config); err != nil {
		logging.Error().Err(err).Msg("invalid configuration")
		return &defaults
	}

	return config
}
