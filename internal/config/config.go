// Package config loads client settings from defaults, an optional YAML
// file, and MATCHLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/matchlink/internal/realtime"
)

// ChatConfig holds the timings of the conversation view.
type ChatConfig struct {
	PageSize          int           `yaml:"page_size"`
	RefreshDelay      time.Duration `yaml:"refresh_delay"`
	TypingIdle        time.Duration `yaml:"typing_idle"`
	TypingBackup      time.Duration `yaml:"typing_backup"`
	PeerTypingTimeout time.Duration `yaml:"peer_typing_timeout"`
	AutoReadDelay     time.Duration `yaml:"auto_read_delay"`
}

// Config holds every client setting.
type Config struct {
	BaseURL  string          `yaml:"base_url"`
	Token    string          `yaml:"token"`
	LogLevel string          `yaml:"log_level"`
	DataPath string          `yaml:"data_path"`
	Realtime realtime.Config `yaml:"realtime"`
	Chat     ChatConfig      `yaml:"chat"`
}

func defaultChatConfig() ChatConfig {
	return ChatConfig{
		PageSize:          50,
		RefreshDelay:      100 * time.Millisecond,
		TypingIdle:        2500 * time.Millisecond,
		TypingBackup:      3 * time.Second,
		PeerTypingTimeout: 3 * time.Second,
		AutoReadDelay:     500 * time.Millisecond,
	}
}

// Default returns the built-in settings.
func Default() Config {
	rt := realtime.DefaultConfig()
	return Config{
		BaseURL:  rt.BaseURL,
		LogLevel: "info",
		Realtime: rt,
		Chat:     defaultChatConfig(),
	}
}

// Load reads defaults, then path when it is non-empty, then the environment.
// Callers apply flag overrides afterwards and finish with Sanitize.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from MATCHLINK_* variables found by lookup.
// Values that do not parse are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			*dst = parseIntValue(v, *dst)
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			*dst = parseDuration(v, *dst)
		}
	}

	str("MATCHLINK_BASE_URL", &c.BaseURL)
	str("MATCHLINK_TOKEN", &c.Token)
	str("MATCHLINK_LOG_LEVEL", &c.LogLevel)
	str("MATCHLINK_DATA_PATH", &c.DataPath)

	integer("MATCHLINK_MAX_RECONNECT_ATTEMPTS", &c.Realtime.MaxReconnectAttempts)
	duration("MATCHLINK_RECONNECT_INTERVAL", &c.Realtime.ReconnectInterval)
	integer("MATCHLINK_QUEUE_SIZE", &c.Realtime.QueueSize)

	integer("MATCHLINK_PAGE_SIZE", &c.Chat.PageSize)
	duration("MATCHLINK_TYPING_IDLE", &c.Chat.TypingIdle)
	duration("MATCHLINK_TYPING_BACKUP", &c.Chat.TypingBackup)
	duration("MATCHLINK_PEER_TYPING_TIMEOUT", &c.Chat.PeerTypingTimeout)
	duration("MATCHLINK_AUTO_READ_DELAY", &c.Chat.AutoReadDelay)
}

// Sanitize fills invalid values with defaults and copies BaseURL into the
// realtime settings.
func (c Config) Sanitize() Config {
	def := Default()

	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil || c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	c.Realtime.BaseURL = c.BaseURL
	c.Realtime = c.Realtime.Sanitize()

	if c.Chat.PageSize <= 0 {
		c.Chat.PageSize = def.Chat.PageSize
	}
	if c.Chat.RefreshDelay <= 0 {
		c.Chat.RefreshDelay = def.Chat.RefreshDelay
	}
	if c.Chat.TypingIdle <= 0 {
		c.Chat.TypingIdle = def.Chat.TypingIdle
	}
	if c.Chat.TypingBackup <= 0 {
		c.Chat.TypingBackup = def.Chat.TypingBackup
	}
	// The backup stop must fire after the idle stop.
	if c.Chat.TypingBackup <= c.Chat.TypingIdle {
		c.Chat.TypingBackup = c.Chat.TypingIdle + 500*time.Millisecond
	}
	if c.Chat.PeerTypingTimeout <= 0 {
		c.Chat.PeerTypingTimeout = def.Chat.PeerTypingTimeout
	}
	if c.Chat.AutoReadDelay <= 0 {
		c.Chat.AutoReadDelay = def.Chat.AutoReadDelay
	}
	return c
}

// Level returns the zerolog level named by LogLevel.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

// ErrNoToken is returned by RequireToken when no token is configured.
var ErrNoToken = errors.New("no auth token: run login or set MATCHLINK_TOKEN")

// RequireToken returns ErrNoToken when Token is empty.
func (c Config) RequireToken() error {
	if c.Token == "" {
		return ErrNoToken
	}
	return nil
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings or a bare number of milliseconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
