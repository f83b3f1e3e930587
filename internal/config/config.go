// Package config provides configuration loading from environment variables and an optional YAML file.
package config

import (
	"time"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Engine backends
const (
	EngineClock  = "clock"
	EngineDocker = "docker"
)

// ServiceConfig holds configuration for the simulation run service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	ShutdownGrace     time.Duration // Time given to active runs to stop on shutdown
	StartRateLimit    float64       // Start requests per second (0 disables limiting)
	StartRateBurst    int
	StoreDriver       string // memory or postgres
	EngineBackend     string // clock or docker
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ShutdownGrace:     GetDurationEnv("SHUTDOWN_GRACE", 20*time.Second),
		StartRateLimit:    GetFloatEnv("START_RATE_LIMIT", 0),
		StartRateBurst:    GetIntEnv("START_RATE_BURST", 5),
		StoreDriver:       GetEnv("STORE_DRIVER", StoreMemory),
		EngineBackend:     GetEnv("ENGINE_BACKEND", EngineClock),
	}
}
