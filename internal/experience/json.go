package experience

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-agent/internal/model"
)

const (
	keyOptimizations = "optimizations"
	keyPatterns      = "patterns"
	keyBestPractices = "best_practices"
)

// JSONStore keeps the history in a single JSON document:
//
//	{"optimizations": [...], "patterns": [...], "best_practices": [...]}
//
// Only "optimizations" is read and appended. Every other key, and every
// existing optimization entry, is written back byte for byte.
type JSONStore struct {
	path string

	mu  sync.Mutex
	doc document

	snap snapshot
}

type document struct {
	optimizations []json.RawMessage
	rest          map[string]json.RawMessage
}

// NewJSONStore creates a store backed by path. The file is not read until
// Load.
func NewJSONStore(path string) *JSONStore {
	s := &JSONStore{path: path, doc: emptyDocument()}
	s.snap.set(nil)
	return s
}

func emptyDocument() document {
	return document{rest: map[string]json.RawMessage{
		keyPatterns:      json.RawMessage(`[]`),
		keyBestPractices: json.RawMessage(`[]`),
	}}
}

// Load reads the document. A missing or unreadable file yields an empty
// history; the problem is logged, never returned.
func (s *JSONStore) Load(_ context.Context) []model.ExperienceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			zap.L().Warn("experience: unreadable store, starting with empty history",
				zap.String("path", s.path),
				zap.Error(err),
			)
		}
		doc = emptyDocument()
	}
	s.doc = doc
	s.snap.set(decodeEntries(doc.optimizations))
	return s.snap.get()
}

// Entries returns the current history without locking.
func (s *JSONStore) Entries() []model.ExperienceEntry {
	return s.snap.get()
}

// Append adds entry to "optimizations" and rewrites the file atomically.
// The file is re-read under the lock so entries written by other processes
// since Load are kept.
func (s *JSONStore) Append(_ context.Context, entry model.ExperienceEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "experience: marshal entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, err := s.read(); err == nil {
		s.doc = doc
	} else if !errors.Is(err, os.ErrNotExist) {
		zap.L().Warn("experience: store changed on disk and is unreadable, keeping in-memory copy",
			zap.String("path", s.path),
			zap.Error(err),
		)
	}

	next := document{
		optimizations: append(append([]json.RawMessage{}, s.doc.optimizations...), raw),
		rest:          s.doc.rest,
	}
	if err := s.write(next); err != nil {
		return err
	}

	s.doc = next
	s.snap.set(decodeEntries(next.optimizations))
	return nil
}

// Close is a no-op; every Append is already on disk.
func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) read() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return document{}, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return document{}, eris.Wrap(err, "experience: parse document")
	}

	doc := emptyDocument()
	for k, v := range top {
		if k == keyOptimizations {
			continue
		}
		doc.rest[k] = v
	}
	if raw, ok := top[keyOptimizations]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &doc.optimizations); err != nil {
			return document{}, eris.Wrap(err, "experience: parse optimizations")
		}
	}
	return doc, nil
}

func (s *JSONStore) write(doc document) error {
	top := make(map[string]json.RawMessage, len(doc.rest)+1)
	for k, v := range doc.rest {
		top[k] = v
	}
	opts := doc.optimizations
	if opts == nil {
		opts = []json.RawMessage{}
	}
	rawOpts, err := json.Marshal(opts)
	if err != nil {
		return eris.Wrap(err, "experience: marshal optimizations")
	}
	top[keyOptimizations] = rawOpts

	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return eris.Wrap(err, "experience: marshal document")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".experience-*.tmp")
	if err != nil {
		return eris.Wrap(err, "experience: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "experience: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "experience: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "experience: close temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return eris.Wrap(err, "experience: replace store file")
	}
	return nil
}

// decodeEntries decodes what it can. Entries that do not decode stay in the
// document but are left out of the history.
func decodeEntries(raws []json.RawMessage) []model.ExperienceEntry {
	out := make([]model.ExperienceEntry, 0, len(raws))
	for _, raw := range raws {
		var e model.ExperienceEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}
