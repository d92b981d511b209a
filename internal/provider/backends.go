package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/sells-group/funnel-agent/internal/cost"
	"github.com/sells-group/funnel-agent/internal/model"
	"github.com/sells-group/funnel-agent/internal/registry"
	"github.com/sells-group/funnel-agent/pkg/anthropic"
	"github.com/sells-group/funnel-agent/pkg/gemini"
	"github.com/sells-group/funnel-agent/pkg/openai"
)

const defaultMaxTokens = 2048

// Backend names understood by DefaultSet.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendGemini    = "gemini"
)

// DefaultSet returns adapters for every supported backend. Perplexity and
// other OpenAI-compatible hosts use the openai backend with a base_url.
func DefaultSet(hc *http.Client) Set {
	return Set{
		BackendAnthropic: &AnthropicAdapter{},
		BackendOpenAI:    &OpenAIAdapter{HTTPClient: hc},
		BackendGemini:    &GeminiAdapter{HTTPClient: hc},
	}
}

// AnthropicAdapter calls the Anthropic Messages API.
type AnthropicAdapter struct {
	MaxTokens int64
}

// Call implements Adapter.
func (a *AnthropicAdapter) Call(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) Outcome {
	key, f := credential(p)
	if f != nil {
		return Outcome{Failure: f}
	}

	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	prompt := BuildPrompt(req, history)
	client := anthropic.NewClient(key, anthropic.WithBaseURL(p.BaseURL))
	resp, err := client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.ModelID,
		MaxTokens: maxTokens,
		System:    prompt.System,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt.User}},
	})
	if err != nil {
		status := 0
		var se *anthropic.StatusError
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		return Failed(Classify(err, status), err)
	}

	payload, f := ParseStructured(resp.Text(), req.Kind)
	if f != nil {
		return Outcome{Failure: f}
	}
	return Succeeded(payload, modelOr(p.ModelID, resp.Model), cost.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})
}

// OpenAIAdapter calls any OpenAI-compatible chat completions endpoint.
type OpenAIAdapter struct {
	HTTPClient *http.Client
	MaxTokens  int
}

// Call implements Adapter.
func (a *OpenAIAdapter) Call(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) Outcome {
	key, f := credential(p)
	if f != nil {
		return Outcome{Failure: f}
	}

	opts := []openai.Option{openai.WithBaseURL(p.BaseURL), openai.WithModel(p.ModelID)}
	if a.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(a.HTTPClient))
	}
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	prompt := BuildPrompt(req, history)
	resp, err := openai.NewClient(key, opts...).ChatCompletion(ctx, openai.ChatCompletionRequest{
		Messages: []openai.Message{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		status := 0
		var se *openai.StatusError
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		return Failed(Classify(err, status), err)
	}

	payload, f := ParseStructured(resp.Text(), req.Kind)
	if f != nil {
		return Outcome{Failure: f}
	}
	return Succeeded(payload, modelOr(p.ModelID, resp.Model), cost.Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	})
}

// GeminiAdapter calls the Google Generative Language API.
type GeminiAdapter struct {
	HTTPClient *http.Client
	MaxTokens  int
}

// Call implements Adapter.
func (a *GeminiAdapter) Call(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) Outcome {
	key, f := credential(p)
	if f != nil {
		return Outcome{Failure: f}
	}

	opts := []gemini.Option{gemini.WithBaseURL(p.BaseURL), gemini.WithModel(p.ModelID)}
	if a.HTTPClient != nil {
		opts = append(opts, gemini.WithHTTPClient(a.HTTPClient))
	}
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	prompt := BuildPrompt(req, history)
	resp, err := gemini.NewClient(key, opts...).GenerateContent(ctx, gemini.GenerateRequest{
		SystemInstruction: &gemini.Content{Parts: []gemini.Part{{Text: prompt.System}}},
		Contents:          []gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: prompt.User}}}},
		GenerationConfig: &gemini.GenerationConfig{
			MaxOutputTokens:  maxTokens,
			ResponseMIMEType: "application/json",
		},
	})
	if err != nil {
		status := 0
		var se *gemini.StatusError
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		return Failed(Classify(err, status), err)
	}

	payload, f := ParseStructured(resp.Text(), req.Kind)
	if f != nil {
		return Outcome{Failure: f}
	}
	return Succeeded(payload, modelOr(p.ModelID, resp.ModelVersion), cost.Usage{
		InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
	})
}

func modelOr(configured, reported string) string {
	if configured != "" {
		return configured
	}
	return reported
}
