// Package demo produces canned results used when no live provider can
// answer. Output depends only on the request shape, never on time or
// randomness.
package demo

import (
	"encoding/json"

	"github.com/sells-group/funnel-agent/internal/model"
)

// ModelName is reported as model_used in demo payloads.
const ModelName = "simulation"

type recommendation struct {
	Type                     string `json:"type"`
	Description              string `json:"description"`
	ExpectedImprovement      string `json:"expected_improvement"`
	ImplementationDifficulty string `json:"implementation_difficulty"`
}

type issue struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
	Impact   string `json:"impact"`
	Priority string `json:"priority"`
}

type psychology struct {
	UserJourneyFlow   string   `json:"user_journey_flow"`
	FrictionPoints    []string `json:"friction_points"`
	EngagementFactors []string `json:"engagement_factors"`
}

type analysis struct {
	OverallScore          float64          `json:"overall_score"`
	ConversionPrediction  float64          `json:"conversion_prediction"`
	StepsAnalyzed         int              `json:"steps_analyzed"`
	Strengths             []string         `json:"strengths"`
	Issues                []issue          `json:"issues"`
	Recommendations       []recommendation `json:"recommendations"`
	PsychologicalAnalysis psychology       `json:"psychological_analysis"`
	ConfidenceLevel       float64          `json:"confidence_level"`
	ProviderUsed          string           `json:"provider_used"`
	ModelUsed             string           `json:"model_used"`
}

type visualSuggestion struct {
	Element    string `json:"element"`
	Suggestion string `json:"suggestion"`
	Reasoning  string `json:"reasoning"`
}

type microcopy struct {
	Original string `json:"original"`
	Improved string `json:"improved"`
	Reason   string `json:"reason"`
}

type bias struct {
	Bias           string `json:"bias"`
	Application    string `json:"application"`
	ExpectedImpact string `json:"expected_impact"`
}

type optimization struct {
	OptimizedTitle         string             `json:"optimized_title"`
	OptimizedContent       string             `json:"optimized_content"`
	OptimizedOptions       []string           `json:"optimized_options"`
	VisualSuggestions      []visualSuggestion `json:"visual_suggestions"`
	MicrocopyImprovements  []microcopy        `json:"microcopy_improvements"`
	CognitiveBiasesApplied []bias             `json:"cognitive_biases_applied"`
	ExpectedImprovement    string             `json:"expected_improvement"`
	Confidence             float64            `json:"confidence"`
	ProviderUsed           string             `json:"provider_used"`
	ModelUsed              string             `json:"model_used"`
}

// Respond returns the demo payload for req. It never fails.
func Respond(req model.AnalysisRequest) json.RawMessage {
	var v any
	switch req.Kind {
	case model.KindStepOptimization:
		v = optimizeStep(req.Payload)
	default:
		v = analyzeFunnel(req.Payload)
	}

	out, err := json.Marshal(v)
	if err != nil {
		// Only plain structs are marshaled above.
		return json.RawMessage(`{"provider_used":"demo"}`)
	}
	return out
}

func analyzeFunnel(payload json.RawMessage) analysis {
	return analysis{
		OverallScore:         78.5,
		ConversionPrediction: 24.2,
		StepsAnalyzed:        countSteps(payload),
		Strengths: []string{
			"Professional design",
			"Relevant questions",
			"Clear call to action",
		},
		Issues: []issue{
			{
				Problem:  "Form may be too long",
				Solution: "Split the form into two shorter steps",
				Impact:   "+12% completion",
				Priority: "high",
			},
			{
				Problem:  "No social proof",
				Solution: "Add testimonials near the final call to action",
				Impact:   "+18% credibility",
				Priority: "medium",
			},
		},
		Recommendations: []recommendation{
			{
				Type:                     "optimization",
				Description:              "Add an urgency timer",
				ExpectedImprovement:      "+25% conversion",
				ImplementationDifficulty: "easy",
			},
			{
				Type:                     "content",
				Description:              "Include customer testimonials",
				ExpectedImprovement:      "+18% credibility",
				ImplementationDifficulty: "medium",
			},
		},
		PsychologicalAnalysis: psychology{
			UserJourneyFlow:   "Visitors move from curiosity to commitment without a clear value reminder midway.",
			FrictionPoints:    []string{"Form may be too long", "No social proof"},
			EngagementFactors: []string{"Professional design", "Relevant questions", "Clear call to action"},
		},
		ConfidenceLevel: 0.85,
		ProviderUsed:    model.DemoProvider,
		ModelUsed:       ModelName,
	}
}

func optimizeStep(payload json.RawMessage) optimization {
	var step struct {
		Title   string   `json:"title"`
		Options []string `json:"options"`
	}
	_ = json.Unmarshal(payload, &step)

	title := "Get your personalized plan in 60 seconds"
	if step.Title != "" {
		title = step.Title + " (takes 60 seconds)"
	}

	options := make([]string, 0, len(step.Options))
	for _, o := range step.Options {
		options = append(options, o+" ✓")
	}
	if len(options) == 0 {
		options = []string{"Yes, show me how", "Not right now"}
	}

	return optimization{
		OptimizedTitle:   title,
		OptimizedContent: "Answer a few quick questions and we will tailor the next steps to you.",
		OptimizedOptions: options,
		VisualSuggestions: []visualSuggestion{
			{
				Element:    "progress bar",
				Suggestion: "Show progress above the question",
				Reasoning:  "Visible progress reduces abandonment",
			},
		},
		MicrocopyImprovements: []microcopy{
			{
				Original: "Submit",
				Improved: "Show my results",
				Reason:   "Outcome-focused buttons outperform generic verbs",
			},
		},
		CognitiveBiasesApplied: []bias{
			{
				Bias:           "goal gradient",
				Application:    "Progress indicator near completion",
				ExpectedImpact: "+8% completion",
			},
		},
		ExpectedImprovement: "+15%",
		Confidence:          0.7,
		ProviderUsed:        model.DemoProvider,
		ModelUsed:           ModelName,
	}
}

// countSteps returns len(payload.steps) when present.
func countSteps(payload json.RawMessage) int {
	var f struct {
		Steps []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(payload, &f); err != nil {
		return 0
	}
	return len(f.Steps)
}
