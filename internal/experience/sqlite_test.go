package experience

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-agent/internal/model"
)

func newTestSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestSQLite_AppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experience.db")
	ctx := context.Background()

	st := newTestSQLiteStore(t, path)
	assert.Empty(t, st.Load(ctx))

	e := entry("r1")
	e.Kind = model.KindStepOptimization
	require.NoError(t, st.Append(ctx, e))
	require.NoError(t, st.Append(ctx, entry("r2")))
	assert.Len(t, st.Entries(), 2)

	reopened := newTestSQLiteStore(t, path)
	got := reopened.Load(ctx)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].RequestID)
	assert.Equal(t, model.KindStepOptimization, got[0].Kind)
	assert.Equal(t, "gemini", got[0].ProviderUsed)
	assert.JSONEq(t, `{"overall_score":80}`, string(got[0].ResultSummary))
	assert.True(t, e.Timestamp.Equal(got[0].Timestamp))
}

func TestSQLite_WALMode(t *testing.T) {
	st := newTestSQLiteStore(t, filepath.Join(t.TempDir(), "experience.db"))
	var mode string
	require.NoError(t, st.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLite_ConcurrentAppends(t *testing.T) {
	st := newTestSQLiteStore(t, filepath.Join(t.TempDir(), "experience.db"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, st.Append(ctx, entry(fmt.Sprintf("r%d", i))))
		}(i)
	}
	wg.Wait()

	assert.Len(t, st.Entries(), 20)
	assert.Len(t, st.Load(ctx), 20)
}

func TestSQLite_LoadAfterCloseDegrades(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "experience.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	assert.Empty(t, st.Load(context.Background()))
}
