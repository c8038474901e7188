// Package config loads the process configuration. The Config value is
// immutable after Load: it is constructed once at startup and passed by
// reference into the store, branch, and versioning constructors. Core logic
// never reads ambient global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TxPolicy names the behavior of a second writer on a busy branch.
type TxPolicy string

const (
	// TxPolicyFail rejects the second writer immediately.
	TxPolicyFail TxPolicy = "fail"
	// TxPolicyBlock parks the second writer until the branch frees up.
	TxPolicyBlock TxPolicy = "block"
)

// Config is the full process configuration.
type Config struct {
	// StorePath is the SQLite database file.
	StorePath string `yaml:"store_path"`

	// BlobRoot is the directory for binary attachments.
	BlobRoot string `yaml:"blob_root"`

	// SchemaDir holds the CUE class schemas. Empty disables validation.
	SchemaDir string `yaml:"schema_dir"`

	// AutoSave commits after every mutating facade call.
	AutoSave bool `yaml:"auto_save"`

	// VerboseFeedback downgrades the empty-save condition to a log line.
	VerboseFeedback bool `yaml:"verbose_feedback"`

	// TxPolicy is "fail" or "block".
	TxPolicy TxPolicy `yaml:"tx_policy"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given, rooted at
// dir.
func Default(dir string) Config {
	return Config{
		StorePath: filepath.Join(dir, "vellum.db"),
		BlobRoot:  filepath.Join(dir, "blobs"),
		TxPolicy:  TxPolicyFail,
		LogLevel:  "info",
	}
}

// Load reads a YAML configuration file and fills unset fields with defaults
// relative to the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default(filepath.Dir(path))
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.TxPolicy {
	case TxPolicyFail, TxPolicyBlock:
	default:
		return fmt.Errorf("tx_policy must be %q or %q, got %q", TxPolicyFail, TxPolicyBlock, c.TxPolicy)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must be set")
	}
	return nil
}
