package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServeConfig is the serve command's operational configuration. Flags
// override whatever the optional YAML file provides. Conversion settings
// (FFMPEG_COMMAND and friends) are deliberately not here: they stay in
// the environment and are re-read on every request.
type ServeConfig struct {
	Addr      string        `yaml:"addr"`
	Intake    string        `yaml:"intake"`
	Staleness time.Duration `yaml:"staleness"`
	Journal   string        `yaml:"journal"`
	HistoryDB string        `yaml:"history_db"`
	LogFile   string        `yaml:"log_file"`
}

// DefaultServeConfig returns the built-in defaults.
func DefaultServeConfig() ServeConfig {
	return ServeConfig{
		Addr:      ":8000",
		Intake:    "intake",
		Staleness: 60 * time.Second,
	}
}

// LoadServeConfig reads a YAML config file over the defaults. An empty
// path returns the defaults unchanged; a missing file is an error (the
// operator named it, so silence would hide a typo).
func LoadServeConfig(path string) (ServeConfig, error) {
	cfg := DefaultServeConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ServeConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServeConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Staleness < 0 {
		return ServeConfig{}, fmt.Errorf("config %s: staleness must not be negative", path)
	}
	return cfg, nil
}
