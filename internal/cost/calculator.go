// Package cost estimates the USD cost of a provider call from token usage.
package cost

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input" json:"input"`
	Output float64 `yaml:"output" mapstructure:"output" json:"output"`
}

// Rates maps model id to its pricing.
type Rates map[string]ModelRate

// Usage is the token consumption reported by a provider.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Calculator computes costs for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator. Configured rates override the
// defaults model by model.
func NewCalculator(rates Rates) *Calculator {
	merged := DefaultRates()
	for model, r := range rates {
		merged[model] = r
	}
	return &Calculator{rates: merged}
}

// Estimate returns the cost of usage on model, or 0 for unknown models.
func (c *Calculator) Estimate(model string, usage Usage) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}
	in := (float64(usage.InputTokens) / 1e6) * rate.Input
	out := (float64(usage.OutputTokens) / 1e6) * rate.Output
	return in + out
}

// Known reports whether model has a rate.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates[model]
	return ok
}

// DefaultRates returns list prices for the models configured out of the box.
func DefaultRates() Rates {
	return Rates{
		"gemini-1.5-flash":           {Input: 0.075, Output: 0.30},
		"gemini-1.5-pro":             {Input: 1.25, Output: 5.00},
		"gpt-4":                      {Input: 30.00, Output: 60.00},
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		"sonar-pro":                  {Input: 3.00, Output: 15.00},
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
	}
}
