// Package observability provides metrics and instrumentation utilities.
package observability

import (
	"fmt"
	"strings"

	"simorchestrator/internal/run"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod   = "method"
	attrPath     = "path"
	attrStatus   = "status"
	attrModel    = "model"
	attrState    = "state"
	attrAction   = "action"
	attrAccepted = "accepted"
	attrOp       = "op"
	attrSuccess  = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func modelAttr(model string) attribute.KeyValue {
	return attribute.String(attrModel, model)
}

func stateAttr(state run.State) attribute.KeyValue {
	return attribute.String(attrState, string(state))
}

func actionAttr(action string) attribute.KeyValue {
	return attribute.String(attrAction, action)
}

func acceptedAttr(accepted bool) attribute.KeyValue {
	return attribute.Bool(attrAccepted, accepted)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizePath replaces run ids with a placeholder to bound cardinality.
// /v1/runs/abc123 -> /v1/runs/{runId}, /v1/runs/abc123/stop -> /v1/runs/{runId}/stop
func normalizePath(path string) string {
	const prefix = "/v1/runs/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return path
	}
	if _, action, found := strings.Cut(rest, "/"); found {
		return prefix + "{runId}/" + action
	}
	return prefix + "{runId}"
}
