package experience

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/funnel-agent/internal/model"
)

// SQLiteStore keeps the history in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.Mutex
	snap snapshot
}

// NewSQLite opens a SQLite database at the given path, configures WAL mode,
// and creates the experience table.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.Exec(sqliteMigration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: migrate")
	}

	s := &SQLiteStore{db: db}
	s.snap.set(nil)
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS experience_entries (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id     TEXT NOT NULL,
	kind           TEXT NOT NULL DEFAULT '',
	provider_used  TEXT NOT NULL,
	result_summary TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experience_entries_created_at ON experience_entries(created_at);
`

// Load reads every entry in insertion order. Query errors yield an empty
// history and are logged.
func (s *SQLiteStore) Load(ctx context.Context) []model.ExperienceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.query(ctx)
	if err != nil {
		zap.L().Warn("experience: sqlite load failed, starting with empty history", zap.Error(err))
		entries = nil
	}
	s.snap.set(entries)
	return s.snap.get()
}

func (s *SQLiteStore) query(ctx context.Context) ([]model.ExperienceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, request_id, kind, provider_used, result_summary FROM experience_entries ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query experience")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.ExperienceEntry
	for rows.Next() {
		var (
			createdAt, requestID, kind, provider, summary string
		)
		if err := rows.Scan(&createdAt, &requestID, &kind, &provider, &summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan experience")
		}
		ts, _ := time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, model.ExperienceEntry{
			Timestamp:     ts,
			RequestID:     requestID,
			Kind:          model.RequestKind(kind),
			ProviderUsed:  provider,
			ResultSummary: json.RawMessage(summary),
		})
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate experience")
}

// Entries returns the current history without locking.
func (s *SQLiteStore) Entries() []model.ExperienceEntry {
	return s.snap.get()
}

// Append inserts entry. With synchronous=FULL the row is on disk when the
// insert returns.
func (s *SQLiteStore) Append(ctx context.Context, entry model.ExperienceEntry) error {
	summary := entry.ResultSummary
	if len(summary) == 0 {
		summary = json.RawMessage(`null`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experience_entries (request_id, kind, provider_used, result_summary, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.RequestID, string(entry.Kind), entry.ProviderUsed, string(summary), entry.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert experience")
	}
	s.snap.add(entry)
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
