package experience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-agent/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS experience_entries`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ts := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"created_at", "request_id", "kind", "provider_used", "result_summary"}).
		AddRow(ts, "r1", "funnel_analysis", "gemini", []byte(`{"overall_score":71}`)).
		AddRow(ts.Add(time.Minute), "r2", "step_optimization", "openai", []byte(`{"confidence":0.9}`))
	mock.ExpectQuery(`SELECT created_at, request_id, kind, provider_used, result_summary FROM experience_entries ORDER BY id`).
		WillReturnRows(rows)

	got := s.Load(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].RequestID)
	assert.Equal(t, model.KindStepOptimization, got[1].Kind)
	assert.JSONEq(t, `{"confidence":0.9}`, string(got[1].ResultSummary))
	assert.Equal(t, got, s.Entries())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadErrorDegradesToEmpty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT created_at`).WillReturnError(errors.New("relation does not exist"))

	assert.Empty(t, s.Load(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	e := entry("r9")

	mock.ExpectExec(`INSERT INTO experience_entries`).
		WithArgs("r9", "funnel_analysis", "gemini", []byte(`{"overall_score":80}`), e.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Append(context.Background(), e))
	require.Len(t, s.Entries(), 1)
	assert.Equal(t, "r9", s.Entries()[0].RequestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO experience_entries`).
		WillReturnError(errors.New("connection lost"))

	err := s.Append(context.Background(), entry("r1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert experience")
	assert.Empty(t, s.Entries())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectClose()
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
