package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models flowdeck.yml: where the remote services live and how long we
// wait for them.
type Config struct {
	Services struct {
		Identity struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"identity"`
		Orchestrator struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"orchestrator"`
	} `yaml:"services"`
	HTTP struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"http"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Timeout returns the configured per-request timeout.
func (c *Config) Timeout() time.Duration {
	if c.HTTP.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Services.Identity.BaseURL == "" {
		return fmt.Errorf("config.services.identity.base_url is required")
	}
	if c.Services.Orchestrator.BaseURL == "" {
		return fmt.Errorf("config.services.orchestrator.base_url is required")
	}
	for _, u := range []string{c.Services.Identity.BaseURL, c.Services.Orchestrator.BaseURL} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("service base_url %q must be http(s)", u)
		}
	}
	if c.HTTP.TimeoutSeconds < 0 {
		return fmt.Errorf("config.http.timeout_seconds must not be negative")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flowdeck.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with flowdeck init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML for flowdeck init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `services:
  identity:
    base_url: http://localhost:5000/api/baas/v1
  orchestrator:
    base_url: http://localhost:9091/api/tasks/v1

http:
  timeout_seconds: 10

log:
  level: info
`
