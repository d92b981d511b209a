package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/funnel-agent/internal/model"
	"github.com/sells-group/funnel-agent/internal/registry"
)

// Adapter performs one outbound call to a provider and classifies the
// result. Adapters hold no shared mutable state.
type Adapter interface {
	Call(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) Outcome
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) Outcome

// Call implements Adapter.
func (f AdapterFunc) Call(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) Outcome {
	return f(ctx, p, req, history)
}

// Set maps a backend name to its adapter.
type Set map[string]Adapter

// For returns the adapter serving p's backend.
func (s Set) For(p registry.ProviderConfig) (Adapter, bool) {
	a, ok := s[p.BackendName()]
	return a, ok
}

// Wrap returns a copy of s with every adapter passed through wrap.
func (s Set) Wrap(wrap func(Adapter) Adapter) Set {
	out := make(Set, len(s))
	for name, a := range s {
		out[name] = wrap(a)
	}
	return out
}

// Bounded limits each call to timeout. The call is abandoned once the
// deadline passes or ctx is canceled; the adapter's goroutine finishes in
// the background and its result is dropped.
func Bounded(next Adapter, timeout time.Duration) Adapter {
	if timeout <= 0 {
		return next
	}
	return AdapterFunc(func(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) Outcome {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan Outcome, 1)
		go func() {
			done <- next.Call(callCtx, p, req, history)
		}()

		select {
		case out := <-done:
			if !out.OK() && ctx.Err() == nil && callCtx.Err() == context.DeadlineExceeded {
				out.Failure.Kind = KindTimeout
			}
			return out
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return Failed(KindTransport, eris.Wrap(ctx.Err(), "provider: call abandoned"))
			}
			return Failed(KindTimeout, eris.Errorf("provider: %s did not answer within %s", p.ID, timeout))
		}
	})
}

// Limits holds one token bucket per provider, sized from
// ProviderConfig.RequestsPerMinute. Providers without a limit are not
// throttled.
type Limits struct {
	limiters map[string]*rate.Limiter
}

// NewLimits creates limiters for every provider that declares a limit.
func NewLimits(providers []registry.ProviderConfig) *Limits {
	l := &Limits{limiters: make(map[string]*rate.Limiter)}
	for _, p := range providers {
		if p.RequestsPerMinute > 0 {
			l.limiters[p.ID] = rate.NewLimiter(rate.Limit(float64(p.RequestsPerMinute)/60.0), p.RequestsPerMinute)
		}
	}
	return l
}

func (l *Limits) allow(providerID string) bool {
	lim, ok := l.limiters[providerID]
	if !ok {
		return true
	}
	return lim.Allow()
}

// RateLimited refuses calls that would exceed a provider's configured
// request rate. A refused call is a KindRateLimit failure and never
// reaches the network.
func RateLimited(next Adapter, limits *Limits) Adapter {
	if limits == nil {
		return next
	}
	return AdapterFunc(func(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) Outcome {
		if !limits.allow(p.ID) {
			return Failed(KindRateLimit, eris.Errorf("provider: %s exceeded %d requests per minute", p.ID, p.RequestsPerMinute))
		}
		return next.Call(ctx, p, req, history)
	})
}

// credential resolves p's API key or returns a KindAuth failure.
func credential(p registry.ProviderConfig) (string, *Failure) {
	key := p.Credential()
	if key == "" {
		return "", NewFailure(KindAuth, eris.Errorf("provider: no credential for %s (set %s)", p.ID, p.CredentialRef))
	}
	return key, nil
}
