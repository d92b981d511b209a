package model

import (
	"encoding/json"
	"time"
)

// ResultStatus tags which variant an AnalysisResult holds.
type ResultStatus string

const (
	// StatusSuccess means a live provider produced the payload.
	StatusSuccess ResultStatus = "success"
	// StatusDegraded means the demo responder produced the payload.
	StatusDegraded ResultStatus = "degraded"
)

// DemoProvider is the providerUsed marker for degraded results.
const DemoProvider = "demo"

// AnalysisResult is either a Success or a Degraded outcome. Both variants
// share one shape so consumers need no special-casing; Reason is set only
// on Degraded results.
type AnalysisResult struct {
	Status       ResultStatus    `json:"status"`
	RequestID    string          `json:"request_id"`
	Payload      json.RawMessage `json:"payload"`
	ProviderUsed string          `json:"provider_used"`
	ModelUsed    string          `json:"model_used"`
	LatencyMs    int64           `json:"latency_ms"`
	CostUSD      float64         `json:"cost_usd,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// Success builds a Success result.
func Success(requestID string, payload json.RawMessage, providerID, modelID string, latency time.Duration) AnalysisResult {
	return AnalysisResult{
		Status:       StatusSuccess,
		RequestID:    requestID,
		Payload:      payload,
		ProviderUsed: providerID,
		ModelUsed:    modelID,
		LatencyMs:    latency.Milliseconds(),
	}
}

// Degraded builds a Degraded result carrying the demo payload.
func Degraded(requestID string, payload json.RawMessage, reason string) AnalysisResult {
	return AnalysisResult{
		Status:       StatusDegraded,
		RequestID:    requestID,
		Payload:      payload,
		ProviderUsed: DemoProvider,
		ModelUsed:    DemoProvider,
		Reason:       reason,
	}
}

// IsDegraded reports whether the result came from the demo responder.
func (r AnalysisResult) IsDegraded() bool {
	return r.Status == StatusDegraded
}

// FailureRecord describes one failed provider attempt within a single run.
// It is only ever logged, never persisted.
type FailureRecord struct {
	ProviderID  string    `json:"provider_id"`
	RequestID   string    `json:"request_id"`
	ErrorKind   string    `json:"error_kind"`
	Message     string    `json:"message"`
	AttemptedAt time.Time `json:"attempted_at"`
}
