package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with production defaults. Guard weights are left
// nil so the guard package's tuned defaults apply.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         18850,
			RateLimitRPM: 120,
		},
		Identity: IdentityConfig{
			DefaultCountryCode: "55",
		},
		Ingest: IngestConfig{
			ReplayWindowMinutes: 20,
			ReplayMaxEntries:    5000,
			StaleAfterMinutes:   5,
		},
		Guard: GuardConfig{
			GreetingTTLSeconds: 10,
		},
		Store: StoreConfig{
			Driver: "file",
			Path:   "~/.vendaflow/conversations",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				OutboundPerMinute: 20,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "vendaflow",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing file
// is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays VENDAFLOW_* env vars onto the config. Env vars
// take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("VENDAFLOW_HOST", &c.Server.Host)
	if v := os.Getenv("VENDAFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("VENDAFLOW_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}

	envStr("VENDAFLOW_COUNTRY_CODE", &c.Identity.DefaultCountryCode)

	envStr("VENDAFLOW_STORE_DRIVER", &c.Store.Driver)
	envStr("VENDAFLOW_STORE_PATH", &c.Store.Path)
	// The DSN is env-only: it carries credentials and never lives in the file.
	envStr("VENDAFLOW_POSTGRES_DSN", &c.Store.PostgresDSN)

	envStr("VENDAFLOW_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	envStr("VENDAFLOW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("VENDAFLOW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("VENDAFLOW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("VENDAFLOW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to disk. The DSN is excluded by its json tag.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
