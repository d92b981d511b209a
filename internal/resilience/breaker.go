// Package resilience tracks per-provider health and retries startup
// dependencies such as the experience database.
package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is the position of a breaker.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cooldown elapses.
	Open
	// HalfOpen lets probe calls through; the next failure reopens.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow while a breaker is open.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when a provider is taken out of rotation.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long an open breaker rejects calls.
	Cooldown time.Duration
	// OnTransition, when set, observes every state change.
	OnTransition func(provider string, from, to State)
}

// BreakerConfigFrom builds a BreakerConfig from plain config values,
// falling back to 5 failures and a 60 second cooldown.
func BreakerConfigFrom(threshold, cooldownSecs int) BreakerConfig {
	cfg := BreakerConfig{Threshold: 5, Cooldown: 60 * time.Second}
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}

// Breaker is the circuit breaker for a single provider. Callers ask Allow
// before a call and report the result with Success or Failure.
type Breaker struct {
	provider string
	cfg      BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probeAt  time.Time // zero when no half-open probe is in flight

	now func() time.Time
}

func newBreaker(provider string, cfg BreakerConfig, now func() time.Time) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Breaker{provider: provider, cfg: cfg, state: Closed, now: now}
}

// Allow returns ErrOpen if the provider should not be called right now.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case Open:
		if now.Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.probeAt = now
	case HalfOpen:
		// One probe at a time. A probe that never reports back is
		// replaced after another cooldown.
		if !b.probeAt.IsZero() && now.Sub(b.probeAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.probeAt = now
	}
	return nil
}

// Success closes the breaker and clears the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeAt = time.Time{}
	if b.state != Closed {
		b.transition(Closed)
	}
}

// Failure counts a failed call. A failed probe reopens immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probeAt = time.Time{}
	switch b.state {
	case HalfOpen:
		b.openedAt = b.now()
		b.transition(Open)
	case Closed:
		if b.failures >= b.cfg.Threshold {
			b.openedAt = b.now()
			b.transition(Open)
		}
	}
}

// State reports the current state. An open breaker whose cooldown has
// elapsed reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(b.provider, from, to)
	}
}

// Breakers holds one Breaker per provider id, created on first use.
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu     sync.RWMutex
	byName map[string]*Breaker
}

// NewBreakers creates an empty set of provider breakers.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, now: time.Now, byName: make(map[string]*Breaker)}
}

// For returns the breaker for provider.
func (bs *Breakers) For(provider string) *Breaker {
	bs.mu.RLock()
	b, ok := bs.byName[provider]
	bs.mu.RUnlock()
	if ok {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok = bs.byName[provider]; ok {
		return b
	}
	b = newBreaker(provider, bs.cfg, bs.now)
	bs.byName[provider] = b
	return b
}

// BreakerStatus is a point-in-time view of one breaker.
type BreakerStatus struct {
	Provider            string `json:"provider"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Snapshot returns the status of every breaker created so far, sorted by
// provider id.
func (bs *Breakers) Snapshot() []BreakerStatus {
	bs.mu.RLock()
	names := make([]string, 0, len(bs.byName))
	for name := range bs.byName {
		names = append(names, name)
	}
	bs.mu.RUnlock()
	sort.Strings(names)

	out := make([]BreakerStatus, 0, len(names))
	for _, name := range names {
		b := bs.For(name)
		out = append(out, BreakerStatus{
			Provider:            name,
			State:               b.State().String(),
			ConsecutiveFailures: b.Failures(),
		})
	}
	return out
}
