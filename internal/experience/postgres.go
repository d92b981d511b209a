package experience

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-agent/internal/model"
	"github.com/sells-group/funnel-agent/internal/resilience"
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore keeps the history in a shared Postgres table so several
// agent processes can feed one history.
type PostgresStore struct {
	pool Pool

	mu   sync.Mutex
	snap snapshot
}

// NewPostgres connects to connString, retrying while the server is coming
// up, and creates the experience table.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := resilience.Retry(ctx, "postgres ping", resilience.DefaultBackoff(), pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := newPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(pool Pool) *PostgresStore {
	s := &PostgresStore{pool: pool}
	s.snap.set(nil)
	return s
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS experience_entries (
	id             BIGSERIAL PRIMARY KEY,
	request_id     TEXT NOT NULL,
	kind           TEXT NOT NULL DEFAULT '',
	provider_used  TEXT NOT NULL,
	result_summary JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_experience_entries_created_at ON experience_entries(created_at);
`

// Migrate creates the experience table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Load reads every entry in insertion order. Query errors yield an empty
// history and are logged.
func (s *PostgresStore) Load(ctx context.Context) []model.ExperienceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.query(ctx)
	if err != nil {
		zap.L().Warn("experience: postgres load failed, starting with empty history", zap.Error(err))
		entries = nil
	}
	s.snap.set(entries)
	return s.snap.get()
}

func (s *PostgresStore) query(ctx context.Context) ([]model.ExperienceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT created_at, request_id, kind, provider_used, result_summary FROM experience_entries ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query experience")
	}
	defer rows.Close()

	var entries []model.ExperienceEntry
	for rows.Next() {
		var (
			createdAt                 time.Time
			requestID, kind, provider string
			summary                   []byte
		)
		if err := rows.Scan(&createdAt, &requestID, &kind, &provider, &summary); err != nil {
			return nil, eris.Wrap(err, "postgres: scan experience")
		}
		entries = append(entries, model.ExperienceEntry{
			Timestamp:     createdAt,
			RequestID:     requestID,
			Kind:          model.RequestKind(kind),
			ProviderUsed:  provider,
			ResultSummary: json.RawMessage(summary),
		})
	}
	return entries, eris.Wrap(rows.Err(), "postgres: iterate experience")
}

// Entries returns the current history without locking.
func (s *PostgresStore) Entries() []model.ExperienceEntry {
	return s.snap.get()
}

// Append inserts entry; the row is committed when Exec returns.
func (s *PostgresStore) Append(ctx context.Context, entry model.ExperienceEntry) error {
	summary := entry.ResultSummary
	if len(summary) == 0 {
		summary = json.RawMessage(`null`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO experience_entries (request_id, kind, provider_used, result_summary, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.RequestID, string(entry.Kind), entry.ProviderUsed, []byte(summary), entry.Timestamp,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert experience")
	}
	s.snap.add(entry)
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
