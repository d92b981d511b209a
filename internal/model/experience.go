package model

import (
	"encoding/json"
	"time"
)

// ExperienceEntry records one successful analysis. Entries are append-only.
type ExperienceEntry struct {
	Timestamp     time.Time       `json:"timestamp"`
	RequestID     string          `json:"request_id"`
	Kind          RequestKind     `json:"kind,omitempty"`
	ProviderUsed  string          `json:"provider_used"`
	ResultSummary json.RawMessage `json:"result_summary"`
}

// summaryKeys are the payload keys worth carrying into future prompts.
var summaryKeys = []string{
	"overall_score",
	"conversion_prediction",
	"confidence_level",
	"expected_improvement",
	"confidence",
}

// NewExperienceEntry builds the entry appended after a successful result.
func NewExperienceEntry(req AnalysisRequest, res AnalysisResult) ExperienceEntry {
	return ExperienceEntry{
		Timestamp:     time.Now().UTC(),
		RequestID:     req.RequestID,
		Kind:          req.Kind,
		ProviderUsed:  res.ProviderUsed,
		ResultSummary: Summarize(res.Payload),
	}
}

// Summarize keeps only the summary keys of an object payload. Payloads that
// are not objects, or carry none of the keys, are returned unchanged.
func Summarize(payload json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload
	}

	summary := make(map[string]json.RawMessage)
	for _, k := range summaryKeys {
		if v, ok := obj[k]; ok {
			summary[k] = v
		}
	}
	if len(summary) == 0 {
		return payload
	}

	out, err := json.Marshal(summary)
	if err != nil {
		return payload
	}
	return out
}
