// Package registry holds the ordered set of configured LLM providers.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// ProviderConfig describes one configured backend.
type ProviderConfig struct {
	ID                string `yaml:"id" mapstructure:"id" json:"id"`
	DisplayName       string `yaml:"display_name" mapstructure:"display_name" json:"display_name"`
	Backend           string `yaml:"backend" mapstructure:"backend" json:"backend,omitempty"`
	CredentialRef     string `yaml:"credential_ref" mapstructure:"credential_ref" json:"credential_ref"`
	ModelID           string `yaml:"model" mapstructure:"model" json:"model"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url" json:"base_url,omitempty"`
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	PriorityRank      int    `yaml:"priority" mapstructure:"priority" json:"priority"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute" json:"requests_per_minute,omitempty"`
}

// BackendName returns the adapter key for this provider. It defaults to the
// provider id so "gemini" needs no explicit backend.
func (p ProviderConfig) BackendName() string {
	if p.Backend != "" {
		return p.Backend
	}
	return p.ID
}

// Credential resolves CredentialRef from the environment.
func (p ProviderConfig) Credential() string {
	if p.CredentialRef == "" {
		return ""
	}
	return os.Getenv(p.CredentialRef)
}

// Config is the provider section of the application configuration.
type Config struct {
	ActiveProviderID string           `yaml:"active_provider" mapstructure:"active_provider"`
	FallbackEnabled  bool             `yaml:"fallback_enabled" mapstructure:"fallback_enabled"`
	Providers        []ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ConfigurationError reports an invalid provider registry. It is fatal at
// startup and never retried.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "registry: invalid configuration: " + e.Message
}

// Registry answers which provider is active and which ones back it up.
type Registry struct {
	mu        sync.RWMutex
	activeID  string
	providers []ProviderConfig // sorted by PriorityRank ascending
}

// New validates cfg and builds a Registry.
func New(cfg Config) (*Registry, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	providers := make([]ProviderConfig, len(cfg.Providers))
	copy(providers, cfg.Providers)
	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].PriorityRank < providers[j].PriorityRank
	})

	return &Registry{
		activeID:  cfg.ActiveProviderID,
		providers: providers,
	}, nil
}

// Validate checks the configuration invariants: every provider has an id,
// enabled providers have unique priority ranks, and the active provider id
// (when set) names a configured provider.
func Validate(cfg Config) error {
	ranks := make(map[int]string)
	known := make(map[string]bool)
	for i, p := range cfg.Providers {
		if p.ID == "" {
			return &ConfigurationError{Message: fmt.Sprintf("provider at index %d has no id", i)}
		}
		known[p.ID] = true
		if !p.Enabled {
			continue
		}
		if other, dup := ranks[p.PriorityRank]; dup {
			return &ConfigurationError{
				Message: fmt.Sprintf("providers %q and %q share priority %d", other, p.ID, p.PriorityRank),
			}
		}
		ranks[p.PriorityRank] = p.ID
	}
	if cfg.ActiveProviderID != "" && !known[cfg.ActiveProviderID] {
		return &ConfigurationError{Message: fmt.Sprintf("active provider %q is not configured", cfg.ActiveProviderID)}
	}
	return nil
}

// ActiveProvider returns the provider tried first. A disabled active
// provider is never returned; the enabled provider with the lowest priority
// rank takes its place. ok is false when no provider is enabled.
func (r *Registry) ActiveProvider() (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active()
}

func (r *Registry) active() (ProviderConfig, bool) {
	if r.activeID != "" {
		for _, p := range r.providers {
			if p.ID == r.activeID && p.Enabled {
				return p, true
			}
		}
	}
	for _, p := range r.providers {
		if p.Enabled {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// FallbackChain returns the enabled providers other than the active one in
// ascending priority rank.
func (r *Registry) FallbackChain() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active, ok := r.active()
	chain := make([]ProviderConfig, 0, len(r.providers))
	for _, p := range r.providers {
		if !p.Enabled {
			continue
		}
		if ok && p.ID == active.ID {
			continue
		}
		chain = append(chain, p)
	}
	return chain
}

// Providers returns every configured provider, enabled or not, in priority order.
func (r *Registry) Providers() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderConfig, len(r.providers))
	copy(out, r.providers)
	return out
}

// Describe renders the registry for display, marking the provider that
// ActiveProvider would return.
func (r *Registry) Describe() []ProviderView {
	active, _ := r.ActiveProvider()
	return Describe(r.Providers(), active.ID)
}
