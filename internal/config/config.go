// Package config handles configuration loading and validation for the event
// store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete event store configuration.
type Config struct {
	// Storage configuration for the segment files.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Sentinel configuration for out-of-band tamper watching.
	Sentinel SentinelConfig `toml:"sentinel" json:"sentinel" yaml:"sentinel"`
}

// StorageConfig holds segment persistence configuration.
type StorageConfig struct {
	// DataDir is the directory holding the segment files. It is created
	// recursively at startup if missing.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	// FilePrefix is the segment file name prefix.
	FilePrefix string `toml:"file_prefix" json:"file_prefix" yaml:"file_prefix"`

	// MaxSegmentSizeMB is the rotation threshold for the active segment.
	MaxSegmentSizeMB int64 `toml:"max_segment_size_mb" json:"max_segment_size_mb" yaml:"max_segment_size_mb"`

	// RetentionDays is the age past which whole segments become deletable.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// MaxSegmentBytes returns the rotation threshold in bytes.
func (s StorageConfig) MaxSegmentBytes() int64 {
	return s.MaxSegmentSizeMB * 1024 * 1024
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file location when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled turns on the metrics HTTP endpoint.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the address for the metrics endpoint.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// SentinelConfig holds tamper-watcher configuration.
type SentinelConfig struct {
	// Enabled turns on filesystem watching of the data directory.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// DefaultDir returns the default configuration directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".eventstore"
	}
	return filepath.Join(home, ".eventstore")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:          filepath.Join(DefaultDir(), "data"),
			FilePrefix:       "events",
			MaxSegmentSizeMB: 100,
			RetentionDays:    90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9180",
		},
		Sentinel: SentinelConfig{
			Enabled: false,
		},
	}
}

// Load reads the configuration from path, falling back to defaults when
// path is empty and no default file exists. Environment overrides are
// applied and the result validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// decodeFile parses a TOML or YAML config file into cfg. The format is
// chosen by extension, with content sniffing as a fallback for other
// extensions.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("config: parse TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse YAML: %w", err)
		}
	default:
		if _, tomlErr := toml.Decode(string(data), cfg); tomlErr != nil {
			if yamlErr := yaml.Unmarshal(data, cfg); yamlErr != nil {
				return fmt.Errorf("config: parse %s: not TOML (%v) nor YAML (%v)", path, tomlErr, yamlErr)
			}
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides. Variables are
// prefixed with EVENTSTORE_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("EVENTSTORE_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("EVENTSTORE_FILE_PREFIX"); v != "" {
		c.Storage.FilePrefix = v
	}
	if v := os.Getenv("EVENTSTORE_MAX_SEGMENT_SIZE_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Storage.MaxSegmentSizeMB = n
		}
	}
	if v := os.Getenv("EVENTSTORE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Storage.RetentionDays = n
		}
	}
	if v := os.Getenv("EVENTSTORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("EVENTSTORE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must not be empty"))
	}
	if c.Storage.FilePrefix == "" {
		errs = append(errs, errors.New("storage.file_prefix must not be empty"))
	}
	if strings.ContainsAny(c.Storage.FilePrefix, "_/\\") {
		errs = append(errs, fmt.Errorf("storage.file_prefix %q must not contain underscores or path separators", c.Storage.FilePrefix))
	}
	if c.Storage.MaxSegmentSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_segment_size_mb must be positive, got %d", c.Storage.MaxSegmentSizeMB))
	}
	if c.Storage.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("storage.retention_days must be positive, got %d", c.Storage.RetentionDays))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics.listen_addr must be set when metrics are enabled"))
	}

	return errors.Join(errs...)
}
