// Package config reads the cinder configuration file
// (~/.config/cinder/config.yaml) and layers it under command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvModel names a model file used when neither --model nor the config
// file provides one.
const EnvModel = "CINDER_MODEL"

// Config represents the configuration file. Numeric fields are pointers so
// "not set" is distinguishable from zero.
type Config struct {
	Model   string `yaml:"model"`
	Backend string `yaml:"backend"`

	ContextSize *int64 `yaml:"context_size"`
	BatchSize   *int64 `yaml:"batch_size"`
	GPULayers   *int64 `yaml:"gpu_layers"`
	Threads     *int64 `yaml:"threads"`
	NoMmap      *bool  `yaml:"no_mmap"`

	// Sampling defaults
	MaxTokens   *int64   `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	Seed        *int64   `yaml:"seed"`
	Structured  string   `yaml:"structured"`

	// Output
	StreamMode string `yaml:"stream_mode"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

// DefaultPath returns the config file location under the user config
// directory, or "" when it cannot be determined.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cinder", "config.yaml")
}

// Load reads the config file at path, or DefaultPath when path is empty. A
// missing file yields a zero Config and no error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FlagSet reports whether a flag was given explicitly. *cli.Command
// satisfies it.
type FlagSet interface {
	IsSet(name string) bool
}

func anySet(fs FlagSet, names []string) bool {
	for _, n := range names {
		if fs.IsSet(n) {
			return true
		}
	}
	return false
}

// Apply copies *v into dst when v is non-nil and none of the named flags
// were set.
func Apply[T any](fs FlagSet, dst *T, v *T, names ...string) {
	if v == nil || anySet(fs, names) {
		return
	}
	*dst = *v
}

// ApplyString is Apply for string fields, where "" means unset.
func ApplyString(fs FlagSet, dst *string, v string, names ...string) {
	if v == "" || anySet(fs, names) {
		return
	}
	*dst = v
}

// ModelPath picks the model path from the flag value, the config file and
// then the CINDER_MODEL environment variable.
func (c Config) ModelPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(c.Model); p != "" {
		return expandHome(p)
	}
	return strings.TrimSpace(os.Getenv(EnvModel))
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
