package config

import (
	"os"
	"time"
)

// DefaultStreamURL is used when PET_WS_URL is unset.
const DefaultStreamURL = "ws://localhost:8000/ws"

// StreamConfig holds event-stream client settings.
type StreamConfig struct {
	URL              string
	PingInterval     time.Duration
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

// DefaultStreamConfig returns the client defaults: 30s pings, 5s reconnect.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		URL:              DefaultStreamURL,
		PingInterval:     30 * time.Second,
		ReconnectDelay:   5000 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
	}
}

// StreamConfigFromEnv loads client settings from environment variables.
func StreamConfigFromEnv() *StreamConfig {
	cfg := DefaultStreamConfig()

	if u := os.Getenv("PET_WS_URL"); u != "" {
		cfg.URL = u
	}
	if s := envInt("PET_WS_PING_SECONDS", 0); s > 0 {
		cfg.PingInterval = time.Duration(s) * time.Second
	}
	if ms := envInt("PET_WS_RECONNECT_MS", 0); ms > 0 {
		cfg.ReconnectDelay = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

// APIConfig holds settings for the reply/unread HTTP helper.
type APIConfig struct {
	BaseURL string
	UserID  string
	Timeout time.Duration
}

// DefaultAPIConfig returns the helper defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		BaseURL: "http://localhost:8000",
		Timeout: 10 * time.Second,
	}
}

// APIConfigFromEnv loads helper settings from environment variables.
func APIConfigFromEnv() *APIConfig {
	cfg := DefaultAPIConfig()
	if base := os.Getenv("PET_API_BASE"); base != "" {
		cfg.BaseURL = base
	}
	cfg.UserID = os.Getenv("PET_API_USER")
	return cfg
}
