package simulation

import "simorchestrator/internal/config"

// Config holds facade defaults and request limits.
type Config struct {
	DefaultModelName string // Used when a start request omits modelName
	DefaultListLimit int    // Runs returned by List when no limit is given (default: 100)
	MaxListLimit     int    // Upper bound for List limits (default: 1000)
}

// LoadConfigFromEnv loads facade configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		DefaultModelName: config.GetEnv("DEFAULT_MODEL_NAME", "default"),
		DefaultListLimit: config.GetIntEnv("LIST_DEFAULT_LIMIT", 100),
		MaxListLimit:     config.GetIntEnv("LIST_MAX_LIMIT", 1000),
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultModelName == "" {
		c.DefaultModelName = "default"
	}
	if c.DefaultListLimit <= 0 {
		c.DefaultListLimit = 100
	}
	if c.MaxListLimit <= 0 {
		c.MaxListLimit = 1000
	}
	if c.DefaultListLimit > c.MaxListLimit {
		c.DefaultListLimit = c.MaxListLimit
	}
	return c
}
