// Package config loads the service configuration: JSON5 file first, then
// environment overrides. Secrets (the Postgres DSN) come from the environment
// only and are never written back to disk.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Identity  IdentityConfig  `json:"identity"`
	Ingest    IngestConfig    `json:"ingest"`
	Guard     GuardConfig     `json:"guard"`
	Store     StoreConfig     `json:"store"`
	Channels  ChannelsConfig  `json:"channels"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Verbose   bool            `json:"verbose,omitempty"`
}

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm"`
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`
}

// IdentityConfig configures contact key normalization.
type IdentityConfig struct {
	// DefaultCountryCode is prepended to national numbers, e.g. "55".
	DefaultCountryCode string `json:"default_country_code"`
}

// IngestConfig configures webhook-side filtering.
type IngestConfig struct {
	ReplayWindowMinutes int `json:"replay_window_minutes"`
	ReplayMaxEntries    int `json:"replay_max_entries"`
	StaleAfterMinutes   int `json:"stale_after_minutes"`
}

// GuardConfig configures the bot guard and the greeting race guard.
type GuardConfig struct {
	BlockThreshold         float64            `json:"block_threshold,omitempty"`
	Weights                map[string]float64 `json:"weights,omitempty"`
	MinHumanReplyLatencyMS int                `json:"min_human_reply_latency_ms,omitempty"`
	BurstWindowSeconds     int                `json:"burst_window_seconds,omitempty"`
	BurstLimit             int                `json:"burst_limit,omitempty"`
	BlockDurationHours     int                `json:"block_duration_hours,omitempty"`
	CannedPhrases          []string           `json:"canned_phrases,omitempty"`
	GreetingTTLSeconds     int                `json:"greeting_ttl_seconds,omitempty"`
}

// GreetingTTL returns the greeting-guard marker TTL.
func (g GuardConfig) GreetingTTL() time.Duration {
	return time.Duration(g.GreetingTTLSeconds) * time.Second
}

// StoreConfig selects and configures the conversation store backend.
type StoreConfig struct {
	// Driver is "file", "sqlite" or "postgres".
	Driver string `json:"driver"`
	// Path is the file-store directory or the sqlite database file.
	Path string `json:"path,omitempty"`
	// PostgresDSN comes from VENDAFLOW_POSTGRES_DSN only.
	PostgresDSN string `json:"-"`
}

// ChannelsConfig holds per-channel settings.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// WhatsAppConfig configures the WebSocket bridge channel.
type WhatsAppConfig struct {
	Enabled           bool   `json:"enabled"`
	BridgeURL         string `json:"bridge_url,omitempty"`
	OutboundPerMinute int    `json:"outbound_per_minute,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}
