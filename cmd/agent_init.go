package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-agent/internal/cost"
	"github.com/sells-group/funnel-agent/internal/experience"
	"github.com/sells-group/funnel-agent/internal/orchestrator"
	"github.com/sells-group/funnel-agent/internal/provider"
	"github.com/sells-group/funnel-agent/internal/registry"
	"github.com/sells-group/funnel-agent/internal/resilience"
)

// agentEnv holds the registry, experience store, breakers and orchestrator
// needed by the analyze/optimize/batch/serve commands.
type agentEnv struct {
	Registry     *registry.Registry
	Store        experience.Store
	Breakers     *resilience.Breakers // nil when circuit.enabled is false
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the agent environment.
func (e *agentEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close experience store", zap.Error(err))
		}
	}
}

// initAgent validates the config for mode, builds the provider registry,
// opens the experience store and wires the orchestrator. Callers should
// defer env.Close().
func initAgent(ctx context.Context, mode string) (*agentEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	regCfg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(regCfg)
	if err != nil {
		return nil, err
	}

	store, err := experience.Open(ctx, cfg.Experience.Driver, cfg.Experience.Path, cfg.Experience.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open experience store")
	}

	limits := provider.NewLimits(reg.Providers())
	adapters := provider.DefaultSet(&http.Client{}).Wrap(func(a provider.Adapter) provider.Adapter {
		return provider.RateLimited(a, limits)
	})

	opts := []orchestrator.Option{
		orchestrator.WithCostCalculator(cost.NewCalculator(cfg.Rates())),
	}

	var breakers *resilience.Breakers
	if cfg.Circuit.Enabled {
		bc := resilience.BreakerConfigFrom(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
		bc.OnTransition = func(p string, from, to resilience.State) {
			zap.L().Warn("circuit state change",
				zap.String("provider", p),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		breakers = resilience.NewBreakers(bc)
		opts = append(opts, orchestrator.WithBreakers(breakers))
	}

	orch := orchestrator.New(orchestrator.Config{
		FallbackEnabled: regCfg.FallbackEnabled,
		DemoMode:        cfg.Agent.DemoMode,
		CallTimeout:     time.Duration(cfg.Agent.CallTimeoutSecs) * time.Second,
	}, reg, adapters, store, opts...)

	active, _ := reg.ActiveProvider()
	zap.L().Info("agent initialized",
		zap.String("active_provider", active.ID),
		zap.Int("fallbacks", len(reg.FallbackChain())),
		zap.Bool("fallback_enabled", regCfg.FallbackEnabled),
		zap.Bool("demo_mode", cfg.Agent.DemoMode),
		zap.String("experience_driver", cfg.Experience.Driver),
		zap.Int("experience_entries", len(store.Entries())),
	)

	return &agentEnv{
		Registry:     reg,
		Store:        store,
		Breakers:     breakers,
		Orchestrator: orch,
	}, nil
}
