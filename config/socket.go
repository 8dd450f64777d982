package config

import (
	"os"
	"strconv"
)

// SocketConfig holds relay server configuration.
type SocketConfig struct {
	Addr               string `json:"addr"`
	MaxConnections     int    `json:"max_connections"`
	WriteTimeout       int    `json:"write_timeout_seconds"`
	ReadBufferSize     int    `json:"read_buffer_size"`
	WriteBufferSize    int    `json:"write_buffer_size"`
	UnreadLimit        int    `json:"unread_limit"`
	SlackSigningSecret string `json:"-"`
	SlackBotToken      string `json:"-"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		Addr:            ":8000",
		MaxConnections:  1000,
		WriteTimeout:    10,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		UnreadLimit:     100,
	}
}

// ConfigFromEnv loads relay configuration from environment variables.
// Falls back to defaults for any missing or invalid values.
func ConfigFromEnv() *SocketConfig {
	cfg := DefaultConfig()

	if addr := os.Getenv("PET_RELAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	cfg.MaxConnections = envInt("PET_RELAY_MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.WriteTimeout = envInt("PET_RELAY_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.UnreadLimit = envInt("PET_UNREAD_LIMIT", cfg.UnreadLimit)
	cfg.SlackSigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	return cfg
}

// envInt reads a positive integer, keeping def when unset or malformed.
func envInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
