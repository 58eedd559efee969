package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	j, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	ctx := context.Background()
	require.NoError(t, j.EnsureSchema(ctx))

	require.NoError(t, j.Record(ctx, KindManagerStart, ""))
	require.NoError(t, j.Record(ctx, KindChildStart, "pid=123"))
	require.NoError(t, j.Record(ctx, KindChildExit, "code=1 class=crashed"))

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// newest first
	assert.Equal(t, KindChildExit, events[0].Kind)
	assert.Equal(t, "code=1 class=crashed", events[0].Detail)
	assert.Equal(t, KindManagerStart, events[2].Kind)
	assert.False(t, events[0].OccurredAt.IsZero())
}

func TestRecentLimit(t *testing.T) {
	j, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	ctx := context.Background()
	require.NoError(t, j.EnsureSchema(ctx))
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Record(ctx, KindDBUnhealthy, ""))
	}
	events, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestOpenFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, j.EnsureSchema(ctx))
	require.NoError(t, j.Record(ctx, KindShutdown, "signal"))
	require.NoError(t, j.Close())

	// Reopen and verify persistence.
	j2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = j2.Close() }()
	events, err := j2.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindShutdown, events[0].Kind)
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	ctx := context.Background()
	assert.NoError(t, j.EnsureSchema(ctx))
	assert.NoError(t, j.Record(ctx, KindShutdown, ""))
	events, err := j.Recent(ctx, 5)
	assert.NoError(t, err)
	assert.Nil(t, events)
	assert.NoError(t, j.Close())
}
