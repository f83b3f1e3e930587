package simulation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"simorchestrator/internal/apperrors"
)

// Validation limits
const (
	maxModelNameLength   = 128
	maxDescriptionLength = 4096
	maxParametersBytes   = 1 << 20
)

// applyDefaults sets default values for unspecified request fields.
func applyDefaults(req *StartRequest, defaultModel string) {
	req.ModelName = strings.TrimSpace(req.ModelName)
	if req.ModelName == "" {
		req.ModelName = defaultModel
	}
	req.Description = strings.TrimSpace(req.Description)
}

// validate validates a start request. Does not modify the request.
func validate(req *StartRequest) error {
	if req.ModelName == "" {
		return apperrors.Validation("modelName", "model name is required")
	}
	if utf8.RuneCountInString(req.ModelName) > maxModelNameLength {
		return apperrors.Validation("modelName", fmt.Sprintf("model name exceeds maximum length of %d", maxModelNameLength))
	}
	if utf8.RuneCountInString(req.Description) > maxDescriptionLength {
		return apperrors.Validation("description", fmt.Sprintf("description exceeds maximum length of %d", maxDescriptionLength))
	}
	if err := validateParameters("engineParameters", req.EngineParameters); err != nil {
		return err
	}
	return validateParameters("agentParameters", req.AgentParameters)
}

// validateParameters accepts an absent blob, null, or a JSON object.
func validateParameters(field string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if len(raw) > maxParametersBytes {
		return apperrors.Validation(field, fmt.Sprintf("%s exceed maximum size of %d bytes", field, maxParametersBytes))
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
		return apperrors.Validation(field, field+" must be a JSON object")
	}
	return nil
}
