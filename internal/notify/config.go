package notify

import (
	"strings"
	"time"

	"simorchestrator/internal/config"
)

// Delivery defaults that rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	defaultSource           = "simrun-service"
)

// Config holds run event notification settings.
type Config struct {
	URLs        []string      // webhook destinations; empty disables notifications
	SigningKey  string        // HMAC key for X-Signature-256, empty = unsigned
	Source      string        // CloudEvent source (default: simrun-service)
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	Cooldown    time.Duration // open-circuit requeue delay (default: 30s)
}

// LoadConfigFromEnv loads notification configuration from environment variables.
// NOTIFY_URL accepts a comma-separated list.
func LoadConfigFromEnv() Config {
	cfg := Config{
		URLs:        splitURLs(config.GetEnv("NOTIFY_URL", "")),
		SigningKey:  config.GetSecretFile(config.GetEnv("NOTIFY_SIGNING_KEY_FILE", "")),
		Source:      config.GetEnv("NOTIFY_SOURCE", defaultSource),
		BufferSize:  config.GetIntEnv("NOTIFY_BUFFER_SIZE", 1000),
		Workers:     config.GetIntEnv("NOTIFY_WORKERS", 4),
		HTTPTimeout: config.GetDurationEnv("NOTIFY_HTTP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

// Enabled reports whether any destination is configured.
func (c Config) Enabled() bool {
	return len(c.URLs) > 0
}

func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = defaultSource
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultBreakerCooldown
	}
	return c
}

func splitURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
