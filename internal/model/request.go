package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestKind identifies what the caller wants analyzed.
type RequestKind string

const (
	// KindFunnelAnalysis scores a complete funnel.
	KindFunnelAnalysis RequestKind = "funnel_analysis"
	// KindStepOptimization rewrites a single funnel step.
	KindStepOptimization RequestKind = "step_optimization"
)

// Valid reports whether k is a recognized request kind.
func (k RequestKind) Valid() bool {
	switch k {
	case KindFunnelAnalysis, KindStepOptimization:
		return true
	default:
		return false
	}
}

// AnalysisRequest is an immutable unit of work handed to the orchestrator.
// Payload holds the funnel (or step) description; Context optionally holds
// the surrounding funnel for step optimization.
type AnalysisRequest struct {
	RequestID string          `json:"request_id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      RequestKind     `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// NewAnalysisRequest stamps a payload with a fresh request id and timestamp.
func NewAnalysisRequest(kind RequestKind, payload, reqContext json.RawMessage) AnalysisRequest {
	return AnalysisRequest{
		RequestID: uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
		Context:   reqContext,
	}
}

// ValidationError reports a structurally invalid request. It is the only
// error the orchestrator returns to callers.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// Validate checks the required fields of the request.
func (r AnalysisRequest) Validate() error {
	if r.RequestID == "" {
		return &ValidationError{Field: "request_id", Message: "is required"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "is required"}
	}
	if !r.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if len(bytes.TrimSpace(r.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(r.Payload), []byte("null")) {
		return &ValidationError{Field: "payload", Message: "is required"}
	}
	if !json.Valid(r.Payload) {
		return &ValidationError{Field: "payload", Message: "must be valid JSON"}
	}
	if len(r.Context) > 0 && !json.Valid(r.Context) {
		return &ValidationError{Field: "context", Message: "must be valid JSON"}
	}
	return nil
}
