package relay

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestConfigFromEnv(t *testing.T) {
	cfg := ConfigFromEnv(envOf(map[string]string{
		"SERVER_PORT":                ":9999",
		"ALLOWED_ORIGINS":            "http://a.example, ,http://b.example",
		"MAX_MESSAGE_SIZE":           "2048",
		"RATE_LIMIT_BURST":           "7",
		"RATE_LIMIT_REFILL_INTERVAL": "3",
		"RELAY_TOKENS":               "tok-a:alice, tok-b:bob,broken,:nobody",
	}))

	assert.Equal(t, ":9999", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, map[string]string{"tok-a": "alice", "tok-b": "bob"}, cfg.Tokens)
}

func TestConfigFromEnvKeepsDefaultsOnBadValues(t *testing.T) {
	def := DefaultConfig()
	cfg := ConfigFromEnv(envOf(map[string]string{
		"MAX_MESSAGE_SIZE":           "-1",
		"RATE_LIMIT_BURST":           "lots",
		"RATE_LIMIT_REFILL_INTERVAL": "0",
	}))

	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.Port, cfg.Port)
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5", 5 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"-3", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSeconds(tt.in, time.Minute))
		})
	}
}

func TestSanitize(t *testing.T) {
	cfg := Config{Tokens: map[string]string{" tok ": " alice ", "": "x", "y": ""}}.Sanitize()
	def := DefaultConfig()

	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.ShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, map[string]string{"tok": "alice"}, cfg.Tokens)
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"http://LocalHost:5173", "not a url", ""}, zerolog.New(io.Discard))

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"HTTP://LOCALHOST:5173", true},
		{"http://localhost:8080", false},
		{"https://localhost:5173", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, p.allows(tt.origin))
		})
	}

	all := newOriginPolicy([]string{"*"}, zerolog.New(io.Discard))
	assert.True(t, all.allows("http://anything.example"))

	r := httptest.NewRequest("GET", "/ws/status", nil)
	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, p.check(r))
}

func TestTokenBucket(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newTokenBucket(2, time.Second)
	b.now = func() time.Time { return now }
	b.last = now

	assert.True(t, b.allow())
	assert.True(t, b.allow())
	assert.False(t, b.allow(), "burst spent")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, b.allow(), "half an interval refills one token")
	assert.False(t, b.allow())

	now = now.Add(time.Hour)
	assert.True(t, b.allow())
	assert.True(t, b.allow())
	assert.False(t, b.allow(), "refill is capped at capacity")
}

func TestTokenBucketDefaults(t *testing.T) {
	b := newTokenBucket(0, 0)
	assert.True(t, b.allow())
	assert.False(t, b.allow())
}
