package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/config"
	"go.uber.org/zap/zaptest"
)

func newSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "cache.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	typeAction, err := schemas.NewType("#search", "GBP/USD")
	require.NoError(t, err)
	seq := gbpSequence(t)
	seq.Actions = append(seq.Actions, typeAction)
	seq.RecordActionResult(1, false)
	seq.RecordPartialSuccess([]int{0}, time.Now().UTC().Truncate(time.Microsecond))
	seq.Metadata["source"] = "planner"
	seq.LastUsed = seq.LastUsed.Truncate(time.Microsecond)

	require.NoError(t, s.Upsert(ctx, "alice", seq))

	got, err := s.Get(ctx, "alice", seq.TaskKey)
	require.NoError(t, err)
	if diff := cmp.Diff(seq, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Get(ctx, "bob", seq.TaskKey)
	assert.ErrorIs(t, err, ErrNotFound, "rows are scoped by user")
}

func TestSQLite_UpsertIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	seq := gbpSequence(t)
	require.NoError(t, s.Upsert(ctx, "alice", seq))

	seq.RecordExecution(false, time.Second)
	require.NoError(t, s.Upsert(ctx, "alice", seq))

	got, err := s.Get(ctx, "alice", seq.TaskKey)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ExecutionCount)

	all, err := s.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	seq := gbpSequence(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Upsert(ctx, "alice", seq))
		}()
	}
	wg.Wait()

	all, err := s.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_CleanupClearStats(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	fresh := gbpSequence(t)
	stale := schemas.NewActionSequence("open docs", nil)
	stale.ExecutionCount = 3
	stale.AvgExecutionTime = 3
	stale.LastUsed = time.Now().Add(-45 * 24 * time.Hour)

	require.NoError(t, s.Upsert(ctx, "alice", fresh))
	require.NoError(t, s.Upsert(ctx, "alice", stale))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.InDelta(t, 0.5, st.AvgSuccessRate, 1e-9)
	assert.InDelta(t, 2.0, st.AvgExecutions, 1e-9)
	assert.InDelta(t, 2.25, st.AvgExecutionTime, 1e-9)

	n, err := s.Cleanup(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "alice", "open docs")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemas.CacheStats{}, st, "empty table reports zeros")
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")
	logger := zaptest.NewLogger(t)

	s, err := OpenSQLite(ctx, path, logger)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "alice", gbpSequence(t)))
	require.NoError(t, s.Close())

	// Opening again re-runs the migrator, which must be a no-op.
	s, err = OpenSQLite(ctx, path, logger)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "alice", "find GBP/USD")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutionCount)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "c.db")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, repo)
	require.NoError(t, repo.Close())

	_, err = Open(ctx, config.DatabaseConfig{Driver: "oracle"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
