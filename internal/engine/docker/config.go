package docker

import (
	"strings"
	"time"

	"simorchestrator/internal/config"
)

// Config holds configuration for the Docker-backed engine.
type Config struct {
	Image       string        // Default simulation image when parameters name none
	ServicePort string        // Container port to publish (e.g. "8080/tcp"); empty disables publishing
	StopTimeout time.Duration // Grace period given to a container on stop/reset
	CPU         float64       // CPU limit per run (0 = unlimited)
	MemoryMB    int           // Memory limit per run in MB (0 = unlimited)
	ExtraHosts  []string      // Extra hosts for containers (e.g., ["db.internal:host-gateway"])
}

// LoadConfigFromEnv loads Docker engine configuration from environment variables.
func LoadConfigFromEnv() Config {
	var extraHosts []string
	if hosts := config.GetEnv("EXTRA_HOSTS", ""); hosts != "" {
		extraHosts = strings.Split(hosts, ",")
	}

	return Config{
		Image:       config.GetEnv("ENGINE_DOCKER_IMAGE", "sim-worker:latest"),
		ServicePort: config.GetEnv("ENGINE_SERVICE_PORT", ""),
		StopTimeout: config.GetDurationEnv("ENGINE_STOP_TIMEOUT", 10*time.Second),
		CPU:         config.GetFloatEnv("ENGINE_CPU", 0),
		MemoryMB:    config.GetIntEnv("ENGINE_MEMORY_MB", 0),
		ExtraHosts:  extraHosts,
	}
}

func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = "sim-worker:latest"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	return c
}
