package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultBackendOrigin is where the data-dash API listens during development.
const DefaultBackendOrigin = "http://localhost:3000"

// Default returns the built-in configuration: the svelte integration plugin
// and the /checks and /history proxy rules.
func Default() Config {
	return Config{
		Plugins: []Plugin{{Name: "svelte"}},
		Server: ServerConfig{
			Proxy: ProxyTable{
				{Prefix: "/checks", Target: DefaultBackendOrigin},
				{Prefix: "/history", Target: DefaultBackendOrigin},
			},
		},
	}
}

// LoadConfig returns the validated built-in configuration. It performs no
// I/O and every call returns an equal, independent value.
func LoadConfig() (Config, error) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileConfig distinguishes "absent" from "empty" so that an override file
// only replaces the sections it declares.
type fileConfig struct {
	Plugins *[]Plugin `yaml:"plugins"`
	Server  *struct {
		Proxy *ProxyTable `yaml:"proxy"`
	} `yaml:"server"`
}

// Load reads a YAML override file at path and merges it over Default.
// An empty path, a missing file, or an empty file yields LoadConfig().
// Parse failures and validation failures are returned as errors; the
// latter unwrap to *ConfigurationError.
func Load(path string) (Config, error) {
	if path == "" {
		return LoadConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoadConfig()
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return LoadConfig()
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg := Default()
	if file.Plugins != nil {
		cfg.Plugins = *file.Plugins
	}
	if file.Server != nil && file.Server.Proxy != nil {
		cfg.Server.Proxy = *file.Server.Proxy
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
