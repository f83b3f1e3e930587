package worker

import (
	"encoding/json"
	"time"

	"simorchestrator/internal/config"
)

// Config holds configuration for the simulation worker.
type Config struct {
	RunID            string
	ModelName        string
	EngineParameters json.RawMessage
	AgentParameters  json.RawMessage
	ReportInterval   time.Duration // How often progress is written
}

// LoadConfigFromEnv loads worker configuration from the environment the
// docker engine sets on each run container.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		RunID:          config.GetEnv("SIM_RUN_ID", ""),
		ModelName:      config.GetEnv("SIM_MODEL_NAME", ""),
		ReportInterval: config.GetDurationEnv("SIM_REPORT_INTERVAL", time.Second),
	}
	if raw := config.GetEnv("SIM_ENGINE_PARAMETERS", ""); raw != "" {
		cfg.EngineParameters = json.RawMessage(raw)
	}
	if raw := config.GetEnv("SIM_AGENT_PARAMETERS", ""); raw != "" {
		cfg.AgentParameters = json.RawMessage(raw)
	}
	return cfg
}
