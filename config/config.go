// Package config loads the bootstrap configuration consumed by the bus core.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"osrf/logging"
)

// BootstrapConfig carries everything the core needs to come up: where to
// log, how to reach the broker, and the default locale for outbound
// messages.
type BootstrapConfig struct {
	LogFile       string `yaml:"log_file"`
	LogLevel      string `yaml:"log_level"`
	LogLength     int    `yaml:"log_length"`
	ClientID      string `yaml:"client_id"`
	BusHost       string `yaml:"bus_host"`
	BusPort       int    `yaml:"bus_port"`
	BusUser       string `yaml:"bus_user"`
	BusPass       string `yaml:"bus_pass"`
	DefaultLocale string `yaml:"default_locale"`
}

// Default returns a config suitable for local development.
func Default() *BootstrapConfig {
	return &BootstrapConfig{
		LogLevel:      "info",
		LogLength:     logging.DefaultMaxLen,
		BusHost:       "127.0.0.1",
		BusPort:       5222,
		DefaultLocale: "en-US",
	}
}

// Load reads a YAML bootstrap file. Absent fields keep their defaults.
func Load(path string) (*BootstrapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// BusAddr returns the broker host:port endpoint.
func (c *BootstrapConfig) BusAddr() string {
	return fmt.Sprintf("%s:%d", c.BusHost, c.BusPort)
}

// Logger builds the logger described by this config.
func (c *BootstrapConfig) Logger() (*logging.Logger, error) {
	cfg := logging.Config{
		Level:  logging.ParseLevel(c.LogLevel),
		MaxLen: c.LogLength,
	}
	if c.LogFile != "" {
		cfg.Outputs = []string{c.LogFile}
	}
	return logging.New(cfg)
}
