package session

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, maxRuns int) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), filepath.Join(t.TempDir(), "data", "history.db"), maxRuns, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveAndList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 0)

	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	run := Run{ID: "a", VideoPath: "/v/a.mp4", Model: "tiny", OutputKind: "text", Status: StatusRunning, StartTime: start}
	require.NoError(t, store.SaveRun(ctx, run))

	end := start.Add(time.Minute)
	run.Status = StatusFailed
	run.EndTime = &end
	run.Error = "boom"
	require.NoError(t, store.SaveRun(ctx, run))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Equal(t, "tiny", runs[0].Model)
	require.NotNil(t, runs[0].EndTime)
	assert.True(t, runs[0].EndTime.Equal(end))
	assert.Nil(t, runs[0].Timing)
}

func TestStorePrunesOldestFinishedRuns(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, 2)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		end := start.Add(time.Minute)
		require.NoError(t, store.SaveRun(ctx, Run{
			ID:        fmt.Sprintf("run-%d", i),
			VideoPath: "/v.mp4",
			Status:    StatusCompleted,
			StartTime: start,
			EndTime:   &end,
		}))
	}

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-3", runs[1].ID)
}

func TestStoreCloseNil(t *testing.T) {
	var store *Store
	assert.NoError(t, store.Close())
}
