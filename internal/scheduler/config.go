package scheduler

import (
	"time"

	"simorchestrator/internal/config"
)

// Config holds scheduler limits and supervision timings.
type Config struct {
	MaxConcurrentRuns int           // Active run ceiling (default: 3)
	Workers           int           // Advance goroutines (default: 5)
	QueueSize         int           // Accepted runs that may wait for a worker (default: 0)
	RunTimeout        time.Duration // Accumulated running time before a run is failed, 0 disables
	SetupTimeout      time.Duration // Engine setup deadline (default: 2m)
	LivenessInterval  time.Duration // Supervisor tick (default: 1s)
	LivenessThreshold int           // Non-advancing samples before a run is stuck, 0 disables
	ControlTimeout    time.Duration // Deadline for engine control verbs (default: 30s)
}

// LoadConfigFromEnv loads scheduler configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		MaxConcurrentRuns: config.GetIntEnv("MAX_CONCURRENT_RUNS", 3),
		Workers:           config.GetIntEnv("WORKERS", 5),
		QueueSize:         config.GetIntEnv("QUEUE_SIZE", 0),
		RunTimeout:        config.GetDurationEnv("RUN_TIMEOUT", 30*time.Minute),
		SetupTimeout:      config.GetDurationEnv("SETUP_TIMEOUT", 2*time.Minute),
		LivenessInterval:  config.GetDurationEnv("LIVENESS_INTERVAL", time.Second),
		LivenessThreshold: config.GetIntEnv("LIVENESS_THRESHOLD", 0),
		ControlTimeout:    config.GetDurationEnv("CONTROL_TIMEOUT", 30*time.Second),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 3
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.RunTimeout < 0 {
		c.RunTimeout = 0
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = 2 * time.Minute
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = time.Second
	}
	if c.LivenessThreshold < 0 {
		c.LivenessThreshold = 0
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = 30 * time.Second
	}
	return c
}
