// Package config loads and validates EnergyGuard's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the complete server configuration, persisted as
// config/config.json and auto-created with defaults on first run.
type Config struct {
	Host               string   `json:"host"`
	Port               int      `json:"port"`
	NodesDB            int      `json:"nodes_db"`
	APIToken           string   `json:"API_TOKEN"`
	ReplicationFactor  int      `json:"replication_factor,omitempty"`
	ReadTimeout        Duration `json:"read_timeout"`
	WriteTimeout       Duration `json:"write_timeout"`
	IdleTimeout        Duration `json:"idle_timeout"`
	DataDir            string   `json:"data_dir"`
	RateLimitPerSecond float64  `json:"rate_limit_per_second"`
	RateLimitBurst     int      `json:"rate_limit_burst"`
	Redis              Redis    `json:"redis"`
}

// Redis configures the optional hinted-handoff mirror (see internal/storage.Ring).
type Redis struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// DefaultConfig returns the configuration used when no file exists yet,
// matching the defaults baked into the original Flask app's run.py.
func DefaultConfig() *Config {
	return &Config{
		Host:               "127.0.0.1",
		Port:               5000,
		NodesDB:            3,
		APIToken:           "your_api_token_here",
		ReadTimeout:        Duration{Duration: 30 * time.Second},
		WriteTimeout:       Duration{Duration: 30 * time.Second},
		IdleTimeout:        Duration{Duration: 120 * time.Second},
		DataDir:            "data",
		RateLimitPerSecond: 50,
		RateLimitBurst:     100,
		Redis: Redis{
			Enabled: false,
			Addr:    "127.0.0.1:6379",
		},
	}
}

// LoadOrCreate loads configuration from filename, creating it with
// defaults if it does not exist yet. This mirrors run.py's load_config:
// missing config gets the default values written out and returned.
func LoadOrCreate(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveToFile(filename); err != nil {
			return nil, fmt.Errorf("create default config %s: %w", filename, err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", filename, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", filename, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile persists the configuration as indented JSON, creating the
// parent directory if needed.
func (c *Config) SaveToFile(filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write config file %s: %w", filename, err)
	}

	return nil
}

// Validate checks the configuration is usable before the server starts.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive")
	}
	if c.NodesDB <= 0 {
		return fmt.Errorf("nodes_db must be positive")
	}
	if c.APIToken == "" {
		return fmt.Errorf("API_TOKEN cannot be empty")
	}
	if c.ReplicationFactor < 0 || c.ReplicationFactor > c.NodesDB {
		return fmt.Errorf("replication_factor must be between 0 and nodes_db")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	return nil
}

// ClientConfig mirrors the Python EnergyGuardClient's config/config_client.json.
type ClientConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	APIToken string `json:"API_TOKEN"`
}

// DefaultClientConfig matches client.py's load_config defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:     "127.0.0.1",
		Port:     5000,
		APIToken: "your_api_token_here",
	}
}

// LoadOrCreateClientConfig is the client-side counterpart of LoadOrCreate.
func LoadOrCreateClientConfig(filename string) (*ClientConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		cfg := DefaultClientConfig()
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal client config: %w", err)
		}
		if dir := filepath.Dir(filename); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create config directory %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(filename, data, 0o644); err != nil {
			return nil, fmt.Errorf("write client config %s: %w", filename, err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read client config %s: %w", filename, err)
	}

	cfg := DefaultClientConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse client config %s: %w", filename, err)
	}

	return cfg, nil
}
