// Package config loads the optional samefile configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the optional samefile configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults. A nil field leaves the
// built-in default in place.
type DefaultsConfig struct {
	Checksum    *string  `toml:"checksum"`
	MinSize     *string  `toml:"min_size"`
	MaxSize     *string  `toml:"max_size"`
	IgnoreEmpty *bool    `toml:"ignore_empty"`
	Sleep       *string  `toml:"sleep"`
	Exact       *bool    `toml:"exact"`
	ResultsFile *bool    `toml:"results_file"`
	OutputName  *string  `toml:"output_name"`
	Excludes    []string `toml:"exclude"`
	LogLevel    *string  `toml:"log_level"`
	LogFile     *string  `toml:"log_file"`
}

// SleepDuration parses the sleep default. It returns 0 when unset.
func (d DefaultsConfig) SleepDuration() (time.Duration, error) {
	if d.Sleep == nil {
		return 0, nil
	}
	v, err := time.ParseDuration(*d.Sleep)
	if err != nil {
		return 0, fmt.Errorf("defaults.sleep: %w", err)
	}
	if v < 0 {
		return 0, fmt.Errorf("defaults.sleep: negative duration %s", v)
	}
	return v, nil
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "samefile", "config.toml")
}

// Load reads the config file at path, or at Path() when path is empty.
// Returns a zero Config (no error) if the file does not exist.
func Load(path string) (Config, error) {
	if path == "" {
		path = Path()
	}
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %s", path, undec[0])
	}
	return cfg, nil
}
