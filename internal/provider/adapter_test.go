package provider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-agent/internal/cost"
	"github.com/sells-group/funnel-agent/internal/model"
	"github.com/sells-group/funnel-agent/internal/registry"
)

var zeroUsage cost.Usage

func okAdapter(calls *int32) Adapter {
	return AdapterFunc(func(_ context.Context, p registry.ProviderConfig, _ model.AnalysisRequest, _ []model.ExperienceEntry) Outcome {
		atomic.AddInt32(calls, 1)
		return Succeeded([]byte(`{"overall_score": 1}`), p.ModelID, zeroUsage)
	})
}

func blockingAdapter() Adapter {
	return AdapterFunc(func(ctx context.Context, _ registry.ProviderConfig, _ model.AnalysisRequest, _ []model.ExperienceEntry) Outcome {
		<-ctx.Done()
		return Failed(KindTransport, ctx.Err())
	})
}

func stubbornAdapter(release chan struct{}) Adapter {
	return AdapterFunc(func(_ context.Context, _ registry.ProviderConfig, _ model.AnalysisRequest, _ []model.ExperienceEntry) Outcome {
		<-release
		return Succeeded([]byte(`{}`), "", zeroUsage)
	})
}

func TestBounded_PassesThrough(t *testing.T) {
	var calls int32
	a := Bounded(okAdapter(&calls), time.Second)
	out := a.Call(context.Background(), registry.ProviderConfig{ID: "p", ModelID: "m"}, model.AnalysisRequest{}, nil)
	require.True(t, out.OK())
	assert.Equal(t, "m", out.Model)
	assert.Equal(t, int32(1), calls)
}

func TestBounded_Timeout(t *testing.T) {
	a := Bounded(blockingAdapter(), 20*time.Millisecond)
	out := a.Call(context.Background(), registry.ProviderConfig{ID: "slow"}, model.AnalysisRequest{}, nil)
	require.False(t, out.OK())
	assert.Equal(t, KindTimeout, out.Failure.Kind)
}

func TestBounded_AbandonsAdapterIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	a := Bounded(stubbornAdapter(release), 20*time.Millisecond)
	start := time.Now()
	out := a.Call(context.Background(), registry.ProviderConfig{ID: "stubborn"}, model.AnalysisRequest{}, nil)
	require.False(t, out.OK())
	assert.Equal(t, KindTimeout, out.Failure.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBounded_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out := Bounded(blockingAdapter(), time.Minute).Call(ctx, registry.ProviderConfig{ID: "p"}, model.AnalysisRequest{}, nil)
	require.False(t, out.OK())
	assert.NotEqual(t, KindTimeout, out.Failure.Kind)
}

func TestBounded_ZeroTimeoutIsIdentity(t *testing.T) {
	var calls int32
	inner := okAdapter(&calls)
	assert.NotNil(t, Bounded(inner, 0))
	out := Bounded(inner, 0).Call(context.Background(), registry.ProviderConfig{}, model.AnalysisRequest{}, nil)
	assert.True(t, out.OK())
}

func TestRateLimited(t *testing.T) {
	limited := registry.ProviderConfig{ID: "perplexity", RequestsPerMinute: 1}
	open := registry.ProviderConfig{ID: "gemini"}
	limits := NewLimits([]registry.ProviderConfig{limited, open})

	var calls int32
	a := RateLimited(okAdapter(&calls), limits)

	first := a.Call(context.Background(), limited, model.AnalysisRequest{}, nil)
	second := a.Call(context.Background(), limited, model.AnalysisRequest{}, nil)
	assert.True(t, first.OK())
	require.False(t, second.OK())
	assert.Equal(t, KindRateLimit, second.Failure.Kind)
	assert.Equal(t, int32(1), calls, "refused call must not reach the adapter")

	for i := 0; i < 5; i++ {
		assert.True(t, a.Call(context.Background(), open, model.AnalysisRequest{}, nil).OK())
	}
}

func TestRateLimited_NilLimits(t *testing.T) {
	var calls int32
	a := RateLimited(okAdapter(&calls), nil)
	assert.True(t, a.Call(context.Background(), registry.ProviderConfig{ID: "x"}, model.AnalysisRequest{}, nil).OK())
}

func TestSet_ForAndWrap(t *testing.T) {
	var calls int32
	set := Set{"openai": okAdapter(&calls)}

	a, ok := set.For(registry.ProviderConfig{ID: "perplexity", Backend: "openai"})
	require.True(t, ok)
	assert.NotNil(t, a)

	_, ok = set.For(registry.ProviderConfig{ID: "mistral"})
	assert.False(t, ok)

	wrapped := 0
	out := set.Wrap(func(next Adapter) Adapter {
		wrapped++
		return next
	})
	assert.Equal(t, 1, wrapped)
	assert.Len(t, out, 1)
}

func TestDefaultSet(t *testing.T) {
	set := DefaultSet(nil)
	for _, backend := range []string{BackendAnthropic, BackendOpenAI, BackendGemini} {
		_, ok := set[backend]
		assert.True(t, ok, backend)
	}
}
