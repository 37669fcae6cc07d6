// Package config loads the runtime's configuration file. Everything has a
// working default; the file only overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
	NoColor   bool   `yaml:"no_color"`   // disable ANSI output even on a TTY

	Net NetConfig `yaml:"net"`
}

// NetConfig bounds the network capability.
type NetConfig struct {
	// TimeoutSeconds bounds each individual net.request call.
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Net: NetConfig{
			TimeoutSeconds: 30,
		},
	}
}

// Load reads a YAML configuration file over the defaults. Fields absent from
// the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Net.TimeoutSeconds <= 0 {
		return cfg, fmt.Errorf("config %s: net.timeout_seconds must be positive", path)
	}
	return cfg, nil
}
