package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/funnel-agent/internal/model"
)

// historyWindow caps how many past results are quoted back to the model.
const historyWindow = 10

const systemPrompt = "You are a conversion-funnel optimization analyst. " +
	"Reply with a single JSON object and nothing else."

const analysisSchema = `{
  "overall_score": 0-100,
  "conversion_prediction": 0.0-100.0,
  "strengths": ["..."],
  "issues": [{"problem": "...", "solution": "...", "impact": "...", "priority": "high|medium|low"}],
  "recommendations": [{"type": "optimization|design|content|flow", "description": "...", "expected_improvement": "...", "implementation_difficulty": "easy|medium|hard"}],
  "psychological_analysis": {"user_journey_flow": "...", "friction_points": ["..."], "engagement_factors": ["..."]},
  "ab_test_suggestions": [{"element": "...", "variant_a": "...", "variant_b": "...", "hypothesis": "..."}],
  "confidence_level": 0.0-1.0
}`

const optimizationSchema = `{
  "optimized_title": "...",
  "optimized_content": "...",
  "optimized_options": ["..."],
  "visual_suggestions": [{"element": "...", "suggestion": "...", "reasoning": "..."}],
  "microcopy_improvements": [{"original": "...", "improved": "...", "reason": "..."}],
  "cognitive_biases_applied": [{"bias": "...", "application": "...", "expected_impact": "..."}],
  "expected_improvement": "...",
  "confidence": 0.0-1.0
}`

// Prompt is the rendered system and user message for one call.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt renders req and the most recent history entries into a
// prompt every backend can consume.
func BuildPrompt(req model.AnalysisRequest, history []model.ExperienceEntry) Prompt {
	var b strings.Builder

	switch req.Kind {
	case model.KindStepOptimization:
		b.WriteString("Optimize this funnel step for conversion.\n\nSTEP:\n")
		b.WriteString(indent(req.Payload))
		if len(req.Context) > 0 {
			b.WriteString("\n\nFUNNEL CONTEXT:\n")
			b.WriteString(indent(req.Context))
		}
		writeHistory(&b, history)
		b.WriteString("\n\nRespond with JSON shaped like:\n")
		b.WriteString(optimizationSchema)
	default:
		b.WriteString("Analyze this conversion funnel in depth.\n\nFUNNEL:\n")
		b.WriteString(indent(req.Payload))
		if len(req.Context) > 0 {
			b.WriteString("\n\nCONTEXT:\n")
			b.WriteString(indent(req.Context))
		}
		writeHistory(&b, history)
		b.WriteString("\n\nRespond with JSON shaped like:\n")
		b.WriteString(analysisSchema)
	}

	return Prompt{System: systemPrompt, User: b.String()}
}

func writeHistory(b *strings.Builder, history []model.ExperienceEntry) {
	if len(history) == 0 {
		return
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	fmt.Fprintf(b, "\n\nPREVIOUS RESULTS (%d most recent):\n", len(history))
	for _, e := range history {
		fmt.Fprintf(b, "- %s via %s: %s\n", e.Kind, e.ProviderUsed, compact(e.ResultSummary))
	}
}

func indent(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
