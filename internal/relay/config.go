package relay

import (
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig bounds inbound envelopes per socket.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay settings.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	// Tokens maps auth tokens to user IDs. When empty every non-empty token
	// is accepted as the user ID itself.
	Tokens          map[string]string
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:5173",
		},
		MaxMessageSize: 64 * 1024,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Sanitize replaces unset or invalid values with defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()

	if strings.TrimSpace(c.Port) == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	tokens := make(map[string]string, len(c.Tokens))
	for token, user := range c.Tokens {
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if token != "" && user != "" {
			tokens[token] = user
		}
	}
	c.Tokens = tokens
	return c
}

// ConfigFromEnv overlays the environment read through lookup onto the
// defaults. Unparseable values keep the default.
func ConfigFromEnv(lookup func(string) (string, bool)) Config {
	cfg := DefaultConfig()
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if port := get("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := get("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if size := get("MAX_MESSAGE_SIZE"); size != "" {
		cfg.MaxMessageSize = parsePositiveInt64(size, cfg.MaxMessageSize)
	}
	if burst := get("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = int(parsePositiveInt64(burst, int64(cfg.RateLimit.Burst)))
	}
	if interval := get("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if tokens := get("RELAY_TOKENS"); tokens != "" {
		cfg.Tokens = ParseTokens(tokens)
	}
	return cfg
}

// ParseTokens reads comma-separated token:user pairs. Malformed pairs are
// skipped.
func ParseTokens(value string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range parseList(value) {
		token, user, ok := strings.Cut(pair, ":")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			continue
		}
		tokens[token] = user
	}
	return tokens
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePositiveInt64(value string, fallback int64) int64 {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
		return n
	}
	return fallback
}

// parseSeconds accepts whole seconds or a duration string.
func parseSeconds(value string, fallback time.Duration) time.Duration {
	if n, err := strconv.Atoi(value); err == nil {
		if n > 0 {
			return time.Duration(n) * time.Second
		}
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return fallback
}
