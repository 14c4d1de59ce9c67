// Package config loads server configuration from YAML, fills defaults and
// validates the result. Command-line flags on the server binary override
// individual fields after loading.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	MaxFrameBytes  int    `yaml:"max_frame_bytes"`
}

// Addr joins the bind address and port into a dial/listen string.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

type EngineConfig struct {
	Shards          int   `yaml:"shards"`
	MaxMemoryBytes  int64 `yaml:"max_memory_bytes"`
	SweepIntervalMs int   `yaml:"sweep_interval_ms"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Read loads a config file. The result still needs PopulateDefaults and
// Validate before use.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &cfg, nil
}
