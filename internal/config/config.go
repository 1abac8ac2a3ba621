package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskdesk.yml. The JWT signing secret is deliberately not
// part of the file; it comes from the TASKDESK_JWT_SECRET environment
// variable so it never lands in a workspace checkout.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		TokenTTLMinutes int `yaml:"token_ttl_minutes"`
		BcryptCost      int `yaml:"bcrypt_cost"`
	} `yaml:"auth"`
	Seed struct {
		AdminName  string `yaml:"admin_name"`
		AdminEmail string `yaml:"admin_email"`
	} `yaml:"seed"`
}

// TokenTTL returns the configured session token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("config.auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Seed.AdminEmail == "" {
		return fmt.Errorf("config.seed.admin_email is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskdesk.yml")
}

// Load reads and validates config from a workspace, falling back to the
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing fields
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  token_ttl_minutes: 60
  bcrypt_cost: 10

seed:
  admin_name: Administrator
  admin_email: admin@example.com
`
