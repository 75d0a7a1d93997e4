package realtime

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the socket settings shared by every channel of a session.
type Config struct {
	BaseURL              string        `yaml:"base_url"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteWait            time.Duration `yaml:"write_wait"`
	PongWait             time.Duration `yaml:"pong_wait"`
	PingPeriod           time.Duration `yaml:"ping_period"`
	MaxMessageSize       int64         `yaml:"max_message_size"`
	QueueSize            int           `yaml:"queue_size"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:              "http://localhost:3000",
		MaxReconnectAttempts: 5,
		ReconnectInterval:    time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteWait:            10 * time.Second,
		PongWait:             60 * time.Second,
		PingPeriod:           54 * time.Second,
		MaxMessageSize:       64 * 1024,
		QueueSize:            256,
	}
}

// Sanitize fills unset or invalid fields with defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()

	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = def.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = def.ReconnectInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	return c
}

// SocketURL converts the HTTP base URL into the WebSocket URL for endpoint,
// with the auth token attached as a query parameter.
func (c Config) SocketURL(endpoint, token string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch base.Scheme {
	case "http", "ws":
		base.Scheme = "ws"
	case "https", "wss":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", base.Scheme)
	}
	base.Path = strings.TrimRight(base.Path, "/") + endpoint
	q := base.Query()
	q.Set("token", token)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Channel endpoints.
const (
	StatusEndpoint = "/ws/status"
	chatPrefix     = "/ws/chat/"
	typingPrefix   = "/ws/typing/"
)

// ChatEndpoint returns the chat channel path for a connection.
func ChatEndpoint(connectionID string) string {
	return chatPrefix + url.PathEscape(connectionID)
}

// TypingEndpoint returns the typing channel path for a connection.
func TypingEndpoint(connectionID string) string {
	return typingPrefix + url.PathEscape(connectionID)
}
