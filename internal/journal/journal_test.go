package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	drift := int64(7)
	require.NoError(t, j.Record(ctx, Event{Kind: KindStart, Detail: "clock started", Slots: 3}))
	require.NoError(t, j.Record(ctx, Event{Kind: KindResync, Detail: "auto cut", Slots: 3, MaxDrift: &drift}))

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	require.Equal(t, KindResync, events[0].Kind)
	require.NotNil(t, events[0].MaxDrift)
	require.Equal(t, int64(7), *events[0].MaxDrift)
	require.Equal(t, KindStart, events[1].Kind)
	require.Nil(t, events[1].MaxDrift)
	require.False(t, events[0].At.IsZero())
}

func TestRecentLimit(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, j.Record(ctx, Event{Kind: KindPause, Detail: "paused", Slots: 1}))
	}
	events, err := j.Recent(ctx, 4)
	require.NoError(t, err)
	require.Len(t, events, 4)

	// Out-of-range limits fall back to the default cap.
	events, err = j.Recent(ctx, -1)
	require.NoError(t, err)
	require.Len(t, events, 10)
}
