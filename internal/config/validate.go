package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := validateConnection(&c.Connection); err != nil {
		return fmt.Errorf("connection: %w", err)
	}

	names := make(map[string]bool)
	for i, env := range c.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment %d: missing name", i)
		}
		if names[env.Name] {
			return fmt.Errorf("duplicate environment name: %s", env.Name)
		}
		names[env.Name] = true

		if err := validateEnvironment(&env, c.Connection.URL); err != nil {
			return fmt.Errorf("environment %s: %w", env.Name, err)
		}
	}

	return nil
}

func validateConnection(cc *ConnectionConfig) error {
	if cc.URL == "" {
		return fmt.Errorf("missing url")
	}
	if err := validateURL(cc.URL, TransportWS); err != nil {
		return err
	}

	timers := []struct {
		name  string
		value Duration
	}{
		{"pingTimeout", cc.PingTimeout},
		{"reconnectDelay", cc.ReconnectDelay},
		{"handshakeTimeout", cc.HandshakeTimeout},
		{"writeTimeout", cc.WriteTimeout},
	}
	for _, tm := range timers {
		if tm.value < 0 {
			return fmt.Errorf("%s must be positive, got %s", tm.name, tm.value)
		}
	}
	return nil
}

func validateEnvironment(env *EnvironmentConfig, fallbackURL string) error {
	transport := env.Transport
	if transport == "" {
		transport = TransportWS
	}
	if transport != TransportWS && transport != TransportHTTP {
		return fmt.Errorf("unknown transport: %s", env.Transport)
	}

	u := env.URL
	if u == "" {
		if transport == TransportHTTP {
			return fmt.Errorf("http transport needs its own url")
		}
		u = fallbackURL
	}
	return validateURL(u, transport)
}

func validateURL(raw string, transport Transport) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}

	switch transport {
	case TransportWS:
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("url %q: want ws or wss scheme", raw)
		}
	case TransportHTTP:
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("url %q: want http or https scheme", raw)
		}
	}
	return nil
}
