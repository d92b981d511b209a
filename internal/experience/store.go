// Package experience persists the history of successful analyses that is
// fed back into future prompts.
package experience

import (
	"context"
	"sync/atomic"

	"github.com/sells-group/funnel-agent/internal/model"
)

// Store is the shared append target for experience entries.
//
// Append serializes writers and returns only after the entry is durable.
// Entries reads the last known history without locking; a reader may miss
// an append that is still in flight.
type Store interface {
	Load(ctx context.Context) []model.ExperienceEntry
	Entries() []model.ExperienceEntry
	Append(ctx context.Context, entry model.ExperienceEntry) error
	Close() error
}

// snapshot is a copy-on-write view of the history.
type snapshot struct {
	p atomic.Pointer[[]model.ExperienceEntry]
}

func (s *snapshot) get() []model.ExperienceEntry {
	cur := s.p.Load()
	if cur == nil {
		return []model.ExperienceEntry{}
	}
	return *cur
}

func (s *snapshot) set(entries []model.ExperienceEntry) {
	if entries == nil {
		entries = []model.ExperienceEntry{}
	}
	s.p.Store(&entries)
}

// add publishes a new slice so readers holding the old one never see it
// change. Callers must hold the store's write lock.
func (s *snapshot) add(entry model.ExperienceEntry) {
	cur := s.get()
	next := make([]model.ExperienceEntry, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, entry)
	s.p.Store(&next)
}
