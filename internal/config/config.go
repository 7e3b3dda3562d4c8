package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/gqlsync/internal/client"
	"github.com/yourusername/gqlsync/internal/store"
)

const (
	DefaultConfigDir  = ".config/gqlsync"
	DefaultConfigFile = "config.yaml"
)

// Default returns the configuration used when no file exists
func Default() *Config {
	d := client.DefaultSettings(client.DefaultURL)
	reconnect := d.AutoReconnect
	return &Config{
		Connection: ConnectionConfig{
			URL:              d.URL,
			PingTimeout:      Duration(d.PingTimeout),
			AutoReconnect:    &reconnect,
			ReconnectDelay:   Duration(d.ReconnectDelay),
			HandshakeTimeout: Duration(d.HandshakeTimeout),
			WriteTimeout:     Duration(d.WriteTimeout),
		},
		Environments: []EnvironmentConfig{
			{Name: "default", Transport: TransportWS},
		},
	}
}

// LoadConfig loads configuration from the specified path or default location
// If path is empty, uses ~/.config/gqlsync/config.yaml
// Supports both .yaml and .json extensions
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		// Try YAML first, then JSON
		yamlPath := filepath.Join(home, DefaultConfigDir, "config.yaml")
		jsonPath := filepath.Join(home, DefaultConfigDir, "config.json")

		if _, err := os.Stat(yamlPath); err == nil {
			path = yamlPath
		} else if _, err := os.Stat(jsonPath); err == nil {
			path = jsonPath
		} else {
			return nil, fmt.Errorf("no config file found at %s or %s", yamlPath, jsonPath)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	cfg, err := LoadConfigFromBytes(data, ext)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// LoadConfigFromBytes loads configuration from raw bytes
// format should be "yaml" or "json"
func LoadConfigFromBytes(data []byte, format string) (*Config, error) {
	var cfg Config

	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// GetConfigPath returns the default config file path
func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
}

// Marshal renders the configuration in format ("yaml" or "json")
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case "yaml", "yml":
		return yaml.Marshal(c)
	case "json":
		return json.MarshalIndent(c, "", "  ")
	}
	return nil, fmt.Errorf("unsupported config format: %s", format)
}

// Save writes the configuration to path, creating parent directories
func (c *Config) Save(path string) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	data, err := c.Marshal(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ToSettings converts the connection section to client settings
func (c *Config) ToSettings() *client.Settings {
	cc := c.Connection
	s := client.DefaultSettings(cc.URL)
	if cc.PingTimeout > 0 {
		s.PingTimeout = cc.PingTimeout.D()
	}
	if cc.AutoReconnect != nil {
		s.AutoReconnect = *cc.AutoReconnect
	}
	if cc.ReconnectDelay > 0 {
		s.ReconnectDelay = cc.ReconnectDelay.D()
	}
	if cc.HandshakeTimeout > 0 {
		s.HandshakeTimeout = cc.HandshakeTimeout.D()
	}
	if cc.WriteTimeout > 0 {
		s.WriteTimeout = cc.WriteTimeout.D()
	}
	if len(cc.Headers) > 0 {
		s.Header = make(http.Header)
		for k, v := range cc.Headers {
			s.Header.Set(k, v)
		}
	}
	s.InitPayload = cc.InitPayload
	return s
}

// GetEnvironment returns an environment by name
func (c *Config) GetEnvironment(name string) (*EnvironmentConfig, error) {
	for i := range c.Environments {
		if c.Environments[i].Name == name {
			return &c.Environments[i], nil
		}
	}
	return nil, fmt.Errorf("environment not found: %s", name)
}

// GetEnvironmentNames returns all configured environment names
func (c *Config) GetEnvironmentNames() []string {
	names := make([]string, len(c.Environments))
	for i, env := range c.Environments {
		names[i] = env.Name
	}
	return names
}

// EnvironmentSettings returns the client settings for env, which differ
// from the connection section only in the url
func (c *Config) EnvironmentSettings(env *EnvironmentConfig) *client.Settings {
	s := c.ToSettings()
	if env.URL != "" {
		s.URL = env.URL
	}
	return s
}

// TransportOf returns the transport of env, ws when unset
func (env *EnvironmentConfig) TransportOf() Transport {
	if env.Transport == "" {
		return TransportWS
	}
	return env.Transport
}

// resolvePaths makes relative file references relative to dir
func (c *Config) resolvePaths(dir string) {
	for i := range c.Environments {
		if s := c.Environments[i].Schema; s != "" && !filepath.IsAbs(s) {
			c.Environments[i].Schema = filepath.Join(dir, s)
		}
	}
	if c.Snapshot != "" && !filepath.IsAbs(c.Snapshot) && !strings.HasPrefix(c.Snapshot, "~") {
		c.Snapshot = filepath.Join(dir, c.Snapshot)
	}
}

// SnapshotPath returns the store snapshot file, expanding a leading ~
func (c *Config) SnapshotPath() string {
	if c.Snapshot == "" {
		return store.GetSnapshotPath()
	}
	if c.Snapshot == "~" || strings.HasPrefix(c.Snapshot, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(c.Snapshot, "~"))
	}
	return c.Snapshot
}
