package config

// Config is the root configuration structure
type Config struct {
	Connection   ConnectionConfig    `yaml:"connection" json:"connection"`
	Environments []EnvironmentConfig `yaml:"environments,omitempty" json:"environments,omitempty"`
	Snapshot     string              `yaml:"snapshot,omitempty" json:"snapshot,omitempty"` // Store snapshot file
}

// ConnectionConfig contains the websocket connection settings
type ConnectionConfig struct {
	URL              string                 `yaml:"url" json:"url"`
	PingTimeout      Duration               `yaml:"pingTimeout,omitempty" json:"pingTimeout,omitempty"`
	AutoReconnect    *bool                  `yaml:"autoReconnect,omitempty" json:"autoReconnect,omitempty"` // Defaults to true
	ReconnectDelay   Duration               `yaml:"reconnectDelay,omitempty" json:"reconnectDelay,omitempty"`
	HandshakeTimeout Duration               `yaml:"handshakeTimeout,omitempty" json:"handshakeTimeout,omitempty"`
	WriteTimeout     Duration               `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	Headers          map[string]string      `yaml:"headers,omitempty" json:"headers,omitempty"`
	InitPayload      map[string]interface{} `yaml:"initPayload,omitempty" json:"initPayload,omitempty"`
}

// Transport selects the network of an environment
type Transport string

const (
	TransportWS   Transport = "ws"
	TransportHTTP Transport = "http"
)

// EnvironmentConfig declares one named environment
type EnvironmentConfig struct {
	Name      string    `yaml:"name" json:"name"`
	Transport Transport `yaml:"transport,omitempty" json:"transport,omitempty"` // Defaults to ws
	URL       string    `yaml:"url,omitempty" json:"url,omitempty"`             // Defaults to connection.url
	Schema    string    `yaml:"schema,omitempty" json:"schema,omitempty"`       // Descriptor file
}
