package archive

import (
	"errors"
	"strings"

	"simorchestrator/internal/config"
)

// Config holds the object storage destination for terminal run records.
type Config struct {
	Endpoint   string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Region     string
	UseSSL     bool
	Prefix     string // Object key prefix (default: "runs/")
	BufferSize int    // Pending uploads before records are dropped (default: 256)
}

// LoadConfigFromEnv loads archive configuration from environment variables.
// An empty ARCHIVE_ENDPOINT disables archiving.
func LoadConfigFromEnv() Config {
	return Config{
		Endpoint:   config.GetEnv("ARCHIVE_ENDPOINT", ""),
		Bucket:     config.GetEnv("ARCHIVE_BUCKET", "simulation-runs"),
		AccessKey:  config.GetEnv("ARCHIVE_ACCESS_KEY", ""),
		SecretKey:  config.GetSecretFile(config.GetEnv("ARCHIVE_SECRET_KEY_FILE", "")),
		Region:     config.GetEnv("ARCHIVE_REGION", ""),
		UseSSL:     config.GetBoolEnv("ARCHIVE_USE_SSL", false),
		Prefix:     config.GetEnv("ARCHIVE_PREFIX", "runs/"),
		BufferSize: config.GetIntEnv("ARCHIVE_BUFFER_SIZE", 256),
	}
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Validate checks that an enabled configuration is complete.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("ARCHIVE_BUCKET is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY_FILE are required")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "runs/"
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	return c
}
