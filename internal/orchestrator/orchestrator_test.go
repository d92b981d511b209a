package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-agent/internal/cost"
	"github.com/sells-group/funnel-agent/internal/model"
	"github.com/sells-group/funnel-agent/internal/provider"
	"github.com/sells-group/funnel-agent/internal/registry"
	"github.com/sells-group/funnel-agent/internal/resilience"
)

// MockAdapter implements provider.Adapter for testing.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Call(ctx context.Context, p registry.ProviderConfig, req model.AnalysisRequest, history []model.ExperienceEntry) provider.Outcome {
	args := m.Called(ctx, p, req, history)
	return args.Get(0).(provider.Outcome)
}

// memStore is an in-memory experience.Store.
type memStore struct {
	mu        sync.Mutex
	entries   []model.ExperienceEntry
	appendErr error
}

func (s *memStore) Load(context.Context) []model.ExperienceEntry { return s.Entries() }

func (s *memStore) Entries() []model.ExperienceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ExperienceEntry(nil), s.entries...)
}

func (s *memStore) Append(_ context.Context, e model.ExperienceEntry) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) Close() error { return nil }

// staticProviders lets tests hand the orchestrator a misconfigured chain.
type staticProviders struct {
	active    registry.ProviderConfig
	hasActive bool
	chain     []registry.ProviderConfig
}

func (s staticProviders) ActiveProvider() (registry.ProviderConfig, bool) { return s.active, s.hasActive }
func (s staticProviders) FallbackChain() []registry.ProviderConfig        { return s.chain }

var anyArg = mock.Anything

func prov(id string, rank int, enabled bool) registry.ProviderConfig {
	return registry.ProviderConfig{ID: id, Backend: id, ModelID: id + "-model", Enabled: enabled, PriorityRank: rank}
}

func ok(payload string) provider.Outcome {
	return provider.Succeeded(json.RawMessage(payload), "", cost.Usage{})
}

func fail(kind provider.Kind, msg string) provider.Outcome {
	return provider.Failed(kind, errors.New(msg))
}

func newRegistry(t *testing.T, active string, providers ...registry.ProviderConfig) *registry.Registry {
	t.Helper()
	r, err := registry.New(registry.Config{ActiveProviderID: active, FallbackEnabled: true, Providers: providers})
	require.NoError(t, err)
	return r
}

func funnelRequest() model.AnalysisRequest {
	return model.NewAnalysisRequest(model.KindFunnelAnalysis, json.RawMessage(`{"id":"f1","steps":[{"title":"Welcome"}]}`), nil)
}

func adapters(mocks map[string]*MockAdapter) provider.Set {
	set := provider.Set{}
	for id, m := range mocks {
		set[id] = m
	}
	return set
}

func TestAnalyze_ActiveSucceeds_NoFallbackCalls(t *testing.T) {
	p1, p2 := &MockAdapter{}, &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 88}`)).Once()

	store := &memStore{}
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true)),
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2}), store)

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "p1", res.ProviderUsed)
	assert.Equal(t, "p1-model", res.ModelUsed)
	p1.AssertNumberOfCalls(t, "Call", 1)
	p2.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
	assert.Len(t, store.Entries(), 1)
}

func TestAnalyze_FallsBackInPriorityOrder(t *testing.T) {
	mocks := map[string]*MockAdapter{}
	var order []string
	var mu sync.Mutex
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		m := &MockAdapter{}
		id := id
		outcome := fail(provider.KindTransport, id+" down")
		if id == "p4" {
			outcome = ok(`{"overall_score": 60}`)
		}
		m.On("Call", anyArg, anyArg, anyArg, anyArg).Return(outcome).Run(func(mock.Arguments) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		})
		mocks[id] = m
	}

	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p4", 4, true), prov("p2", 2, true), prov("p1", 1, true), prov("p3", 3, true)),
		adapters(mocks), &memStore{})

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, "p4", res.ProviderUsed)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, order)
	for _, m := range mocks {
		m.AssertNumberOfCalls(t, "Call", 1)
	}
}

func TestAnalyze_AllFail_Degraded(t *testing.T) {
	p1, p2 := &MockAdapter{}, &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(fail(provider.KindAuth, "bad key")).Once()
	p2.On("Call", anyArg, anyArg, anyArg, anyArg).Return(fail(provider.KindTimeout, "took too long")).Once()

	store := &memStore{}
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true)),
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2}), store)

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())
	assert.Equal(t, model.DemoProvider, res.ProviderUsed)
	assert.Contains(t, res.Reason, "p2")
	assert.Contains(t, res.Reason, "timeout")
	assert.Contains(t, res.Reason, "took too long")
	assert.Empty(t, store.Entries(), "degraded results are not recorded as experience")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, "demo", payload["provider_used"])
}

func TestAnalyze_ScenarioRateLimitThenSuccess_DisabledNeverCalled(t *testing.T) {
	p1, p2, p3 := &MockAdapter{}, &MockAdapter{}, &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(fail(provider.KindRateLimit, "429")).Once()
	p2.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 70}`)).Once()

	store := &memStore{}
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true), prov("p3", 3, false)),
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2, "p3": p3}), store)

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "p2", res.ProviderUsed)
	p3.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
	require.Len(t, store.Entries(), 1)
	assert.Equal(t, "p2", store.Entries()[0].ProviderUsed)
}

func TestAnalyze_NoActiveProvider(t *testing.T) {
	tests := []struct {
		name      string
		providers Providers
	}{
		{name: "empty registry", providers: newRegistry(t, "")},
		{name: "all disabled", providers: newRegistry(t, "p1", prov("p1", 1, false), prov("p2", 2, false))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p1 := &MockAdapter{}
			o := New(Config{FallbackEnabled: true}, tt.providers,
				adapters(map[string]*MockAdapter{"p1": p1, "p2": p1}), &memStore{})

			res, err := o.Analyze(context.Background(), funnelRequest())
			require.NoError(t, err)
			assert.True(t, res.IsDegraded())
			assert.Equal(t, model.DemoProvider, res.ProviderUsed)
			assert.NotEmpty(t, res.Reason)
			p1.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
		})
	}
}

func TestAnalyze_ValidationError(t *testing.T) {
	p1 := &MockAdapter{}
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true)),
		adapters(map[string]*MockAdapter{"p1": p1}), &memStore{})

	req := funnelRequest()
	req.Payload = nil

	_, err := o.Analyze(context.Background(), req)
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "payload", ve.Field)
	p1.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
}

func TestAnalyze_FallbackDisabled(t *testing.T) {
	p1, p2 := &MockAdapter{}, &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(fail(provider.KindTransport, "connection refused")).Once()

	o := New(Config{FallbackEnabled: false},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true)),
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2}), &memStore{})

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())
	assert.Contains(t, res.Reason, "p1")
	p2.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
}

func TestAnalyze_DemoMode(t *testing.T) {
	p1 := &MockAdapter{}
	o := New(Config{FallbackEnabled: true, DemoMode: true},
		newRegistry(t, "p1", prov("p1", 1, true)),
		adapters(map[string]*MockAdapter{"p1": p1}), &memStore{})

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())
	assert.Equal(t, "demo mode enabled", res.Reason)
	p1.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
}

func TestAnalyze_MisconfiguredChainNeverRepeatsOrCallsDisabled(t *testing.T) {
	p1, p2, p3 := &MockAdapter{}, &MockAdapter{}, &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(fail(provider.KindMalformed, "no json")).Once()
	p2.On("Call", anyArg, anyArg, anyArg, anyArg).Return(fail(provider.KindTransport, "reset")).Once()

	providers := staticProviders{
		active:    prov("p1", 1, true),
		hasActive: true,
		chain:     []registry.ProviderConfig{prov("p1", 1, true), prov("p3", 3, false), prov("p2", 2, true), prov("p2", 2, true)},
	}
	o := New(Config{FallbackEnabled: true}, providers,
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2, "p3": p3}), &memStore{})

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())
	p1.AssertNumberOfCalls(t, "Call", 1)
	p2.AssertNumberOfCalls(t, "Call", 1)
	p3.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
}

func TestAnalyze_DisabledActiveFromProvidersIsSkipped(t *testing.T) {
	p1, p2 := &MockAdapter{}, &MockAdapter{}
	p2.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 1}`)).Once()

	providers := staticProviders{
		active:    prov("p1", 1, false),
		hasActive: true,
		chain:     []registry.ProviderConfig{prov("p2", 2, true)},
	}
	o := New(Config{FallbackEnabled: true}, providers,
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2}), &memStore{})

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, "p2", res.ProviderUsed)
	p1.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
}

func TestAnalyze_CancellationSkipsToDemo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p1, p2 := &MockAdapter{}, &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).
		Run(func(mock.Arguments) { cancel() }).
		Return(fail(provider.KindTransport, "context canceled")).Once()

	store := &memStore{}
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true)),
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2}), store)

	res, err := o.Analyze(ctx, funnelRequest())
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())
	assert.Contains(t, res.Reason, "canceled")
	p2.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
	assert.Empty(t, store.Entries())
}

func TestAnalyze_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p1 := &MockAdapter{}
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true)),
		adapters(map[string]*MockAdapter{"p1": p1}), &memStore{})

	res, err := o.Analyze(ctx, funnelRequest())
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())
	p1.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
}

func TestAnalyze_CallTimeoutMovesToNextProvider(t *testing.T) {
	slow := provider.AdapterFunc(func(ctx context.Context, _ registry.ProviderConfig, _ model.AnalysisRequest, _ []model.ExperienceEntry) provider.Outcome {
		<-ctx.Done()
		return provider.Failed(provider.KindTransport, ctx.Err())
	})
	p2 := &MockAdapter{}
	p2.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 5}`)).Once()

	o := New(Config{FallbackEnabled: true, CallTimeout: 20 * time.Millisecond},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true)),
		provider.Set{"p1": slow, "p2": p2}, &memStore{})

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, "p2", res.ProviderUsed)
}

func TestAnalyze_OpenCircuitSkipsProvider(t *testing.T) {
	p1, p2 := &MockAdapter{}, &MockAdapter{}
	p2.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 9}`))

	breakers := resilience.NewBreakers(resilience.BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	breakers.For("p1").Failure()

	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true)),
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2}), &memStore{},
		WithBreakers(breakers))

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, "p2", res.ProviderUsed)
	p1.AssertNotCalled(t, "Call", anyArg, anyArg, anyArg, anyArg)
}

func TestAnalyze_FailuresTripBreaker(t *testing.T) {
	p1, p2 := &MockAdapter{}, &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(fail(provider.KindTransport, "502"))
	p2.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 9}`))

	breakers := resilience.NewBreakers(resilience.BreakerConfig{Threshold: 2, Cooldown: time.Hour})
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true)),
		adapters(map[string]*MockAdapter{"p1": p1, "p2": p2}), &memStore{},
		WithBreakers(breakers))

	for i := 0; i < 4; i++ {
		_, err := o.Analyze(context.Background(), funnelRequest())
		require.NoError(t, err)
	}
	p1.AssertNumberOfCalls(t, "Call", 2)
	p2.AssertNumberOfCalls(t, "Call", 4)
	assert.Equal(t, resilience.Open, breakers.For("p1").State())
}

func TestAnalyze_MissingAdapterFallsBack(t *testing.T) {
	p2 := &MockAdapter{}
	p2.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 3}`)).Once()

	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true), prov("p2", 2, true)),
		adapters(map[string]*MockAdapter{"p2": p2}), &memStore{})

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, "p2", res.ProviderUsed)
}

func TestAnalyze_AppendFailureStillSucceeds(t *testing.T) {
	p1 := &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 50}`)).Once()

	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true)),
		adapters(map[string]*MockAdapter{"p1": p1}),
		&memStore{appendErr: errors.New("disk full")})

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, res.Status)
}

func TestAnalyze_StampsPayloadAndCost(t *testing.T) {
	p1 := &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(provider.Succeeded(
		json.RawMessage(`{"overall_score": 81, "confidence_level": 0.7, "strengths": ["fast"]}`),
		"gpt-4", cost.Usage{InputTokens: 1000, OutputTokens: 1000},
	)).Once()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 750 * time.Millisecond)
	}

	store := &memStore{}
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "openai", registry.ProviderConfig{ID: "openai", ModelID: "gpt-4", Enabled: true, PriorityRank: 1}),
		provider.Set{"openai": p1}, store,
		WithCostCalculator(cost.NewCalculator(nil)),
		WithClock(clock))

	res, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(750), res.LatencyMs)
	assert.InDelta(t, 0.09, res.CostUSD, 1e-9)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, "openai", payload["provider_used"])
	assert.Equal(t, "gpt-4", payload["model_used"])
	assert.Equal(t, "0.75s", payload["processing_time"])
	assert.Equal(t, []any{"fast"}, payload["strengths"])

	require.Len(t, store.Entries(), 1)
	assert.JSONEq(t, `{"overall_score": 81, "confidence_level": 0.7}`, string(store.Entries()[0].ResultSummary))
}

func TestAnalyze_HistoryPassedToAdapter(t *testing.T) {
	store := &memStore{entries: []model.ExperienceEntry{{RequestID: "old", ProviderUsed: "p1"}}}

	p1 := &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, mock.MatchedBy(func(h []model.ExperienceEntry) bool {
		return len(h) == 1 && h[0].RequestID == "old"
	})).Return(ok(`{"overall_score": 2}`)).Once()

	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true)),
		adapters(map[string]*MockAdapter{"p1": p1}), store)

	_, err := o.Analyze(context.Background(), funnelRequest())
	require.NoError(t, err)
	p1.AssertExpectations(t)
}

func TestAnalyze_KSuccessesAppendKEntries(t *testing.T) {
	p1 := &MockAdapter{}
	p1.On("Call", anyArg, anyArg, anyArg, anyArg).Return(ok(`{"overall_score": 40}`))

	store := &memStore{entries: []model.ExperienceEntry{{RequestID: "seed"}}}
	o := New(Config{FallbackEnabled: true},
		newRegistry(t, "p1", prov("p1", 1, true)),
		adapters(map[string]*MockAdapter{"p1": p1}), store)

	const k = 30
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Analyze(context.Background(), funnelRequest())
			assert.NoError(t, err)
			assert.Equal(t, model.StatusSuccess, res.Status)
		}()
	}
	wg.Wait()

	assert.Len(t, store.Entries(), k+1)
}

func TestStamp(t *testing.T) {
	assert.Equal(t, `[1,2]`, string(stamp(json.RawMessage(`[1,2]`), map[string]any{"a": 1})))
	assert.Equal(t, `null`, string(stamp(json.RawMessage(`null`), map[string]any{"a": 1})))
	assert.JSONEq(t, `{"x":1,"a":"b"}`, string(stamp(json.RawMessage(`{"x":1}`), map[string]any{"a": "b"})))
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "2 provider(s) failed", failureReason(2, nil))
	rec := &model.FailureRecord{ProviderID: "openai", ErrorKind: "auth", Message: "bad key"}
	assert.Equal(t, "1 provider(s) failed; last: openai auth: bad key", failureReason(1, rec))
	assert.Equal(t, fmt.Sprintf("request canceled before a provider answered: %s", context.Canceled), canceledReason(context.Canceled))
}
