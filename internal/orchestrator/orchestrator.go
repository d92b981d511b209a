// Package orchestrator runs one analysis request through the active
// provider, then the fallback chain, then the demo responder.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-agent/internal/cost"
	"github.com/sells-group/funnel-agent/internal/demo"
	"github.com/sells-group/funnel-agent/internal/experience"
	"github.com/sells-group/funnel-agent/internal/model"
	"github.com/sells-group/funnel-agent/internal/provider"
	"github.com/sells-group/funnel-agent/internal/registry"
	"github.com/sells-group/funnel-agent/internal/resilience"
)

// Config holds the orchestrator switches.
type Config struct {
	FallbackEnabled bool
	// DemoMode answers every request from the demo responder.
	DemoMode bool
	// CallTimeout bounds each provider call. Zero means no bound beyond
	// the request context.
	CallTimeout time.Duration
}

// Providers is the read side of the provider registry.
type Providers interface {
	ActiveProvider() (registry.ProviderConfig, bool)
	FallbackChain() []registry.ProviderConfig
}

// Orchestrator is safe for concurrent use. Each Analyze call walks the
// providers sequentially; the experience store is the only shared state.
type Orchestrator struct {
	cfg       Config
	providers Providers
	adapters  provider.Set
	store     experience.Store

	breakers *resilience.Breakers
	calc     *cost.Calculator
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBreakers skips providers whose circuit is open.
func WithBreakers(b *resilience.Breakers) Option {
	return func(o *Orchestrator) { o.breakers = b }
}

// WithCostCalculator attaches cost_usd to successful results.
func WithCostCalculator(c *cost.Calculator) Option {
	return func(o *Orchestrator) { o.calc = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(cfg Config, providers Providers, adapters provider.Set, store experience.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		providers: providers,
		adapters:  adapters,
		store:     store,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze returns a Success or Degraded result for every valid request.
// The only error it returns is a *model.ValidationError, before any
// provider is contacted.
func (o *Orchestrator) Analyze(ctx context.Context, req model.AnalysisRequest) (model.AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		return model.AnalysisResult{}, err
	}

	if o.cfg.DemoMode {
		return o.degrade(req, "demo mode enabled"), nil
	}

	candidates := o.candidates()
	if len(candidates) == 0 {
		return o.degrade(req, "no enabled provider configured"), nil
	}

	history := o.store.Entries()

	var last *model.FailureRecord
	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return o.degrade(req, canceledReason(err)), nil
		}

		start := o.now()
		out := o.attempt(ctx, p, req, history)
		if out.OK() {
			return o.succeed(ctx, req, p, out, o.now().Sub(start)), nil
		}

		rec := o.recordFailure(req, p, out.Failure)
		last = &rec

		if err := ctx.Err(); err != nil {
			return o.degrade(req, canceledReason(err)), nil
		}
	}

	return o.degrade(req, failureReason(len(candidates), last)), nil
}

// candidates lists the providers to try, in order: the active provider,
// then the fallback chain when fallback is enabled. Disabled providers and
// repeats are dropped.
func (o *Orchestrator) candidates() []registry.ProviderConfig {
	var out []registry.ProviderConfig
	seen := make(map[string]bool)
	add := func(p registry.ProviderConfig) {
		if !p.Enabled || seen[p.ID] {
			return
		}
		seen[p.ID] = true
		out = append(out, p)
	}

	active, ok := o.providers.ActiveProvider()
	if !ok {
		return nil
	}
	add(active)

	if o.cfg.FallbackEnabled {
		for _, p := range o.providers.FallbackChain() {
			add(p)
		}
	}
	return out
}

// attempt makes exactly one call to p, or none when its circuit is open or
// no adapter serves its backend.
func (o *Orchestrator) attempt(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) provider.Outcome {
	adapter, ok := o.adapters.For(p)
	if !ok {
		return provider.Failed(provider.KindTransport, eris.Errorf("orchestrator: no adapter for backend %q", p.BackendName()))
	}

	var breaker *resilience.Breaker
	if o.breakers != nil {
		breaker = o.breakers.For(p.ID)
		if err := breaker.Allow(); err != nil {
			return provider.Failed(provider.KindTransport, err)
		}
	}

	out := provider.Bounded(adapter, o.cfg.CallTimeout).Call(ctx, p, req, history)

	if breaker != nil && ctx.Err() == nil {
		switch {
		case out.OK():
			breaker.Success()
		case out.Failure.Kind != provider.KindMalformed:
			breaker.Failure()
		}
	}
	return out
}

func (o *Orchestrator) succeed(ctx context.Context, req model.AnalysisRequest, p registry.ProviderConfig, out provider.Outcome, elapsed time.Duration) model.AnalysisResult {
	modelUsed := out.Model
	if modelUsed == "" {
		modelUsed = p.ModelID
	}

	payload := stamp(out.Payload, map[string]any{
		"provider_used":   p.ID,
		"model_used":      modelUsed,
		"processing_time": fmt.Sprintf("%.2fs", elapsed.Seconds()),
	})
	res := model.Success(req.RequestID, payload, p.ID, modelUsed, elapsed)

	if o.calc != nil {
		res.CostUSD = o.calc.Estimate(modelUsed, out.Usage)
		zap.L().Info("cost attribution",
			zap.String("request_id", req.RequestID),
			zap.String("provider", p.ID),
			zap.String("model", modelUsed),
			zap.Int64("input_tokens", out.Usage.InputTokens),
			zap.Int64("output_tokens", out.Usage.OutputTokens),
			zap.Float64("estimated_cost_usd", res.CostUSD),
		)
	}

	// The entry is written even if the caller has gone away; the provider
	// call it records already happened.
	entry := model.NewExperienceEntry(req, res)
	if err := o.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		zap.L().Error("experience: append failed",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}
	return res
}

func (o *Orchestrator) recordFailure(req model.AnalysisRequest, p registry.ProviderConfig, f *provider.Failure) model.FailureRecord {
	rec := model.FailureRecord{
		ProviderID:  p.ID,
		RequestID:   req.RequestID,
		ErrorKind:   string(f.Kind),
		Message:     f.Message,
		AttemptedAt: o.now(),
	}
	zap.L().Warn("provider attempt failed",
		zap.String("provider", rec.ProviderID),
		zap.String("request_id", rec.RequestID),
		zap.String("error_kind", rec.ErrorKind),
		zap.String("message", rec.Message),
	)
	return rec
}

func (o *Orchestrator) degrade(req model.AnalysisRequest, reason string) model.AnalysisResult {
	zap.L().Warn("returning degraded result",
		zap.String("request_id", req.RequestID),
		zap.String("kind", string(req.Kind)),
		zap.String("reason", reason),
	)
	return model.Degraded(req.RequestID, demo.Respond(req), reason)
}

func failureReason(attempted int, last *model.FailureRecord) string {
	if last == nil {
		return fmt.Sprintf("%d provider(s) failed", attempted)
	}
	return fmt.Sprintf("%d provider(s) failed; last: %s %s: %s",
		attempted, last.ProviderID, last.ErrorKind, last.Message)
}

func canceledReason(err error) string {
	return "request canceled before a provider answered: " + err.Error()
}

// stamp sets fields on an object payload. Other payloads are returned as is.
func stamp(payload json.RawMessage, fields map[string]any) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return payload
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		obj[k] = raw
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}
