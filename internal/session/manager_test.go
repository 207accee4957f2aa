package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snoozleEmily/transcriptor/internal/pipeline"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

func runInfo(id string) pipeline.RunInfo {
	return pipeline.RunInfo{
		ID:         id,
		VideoPath:  "/videos/" + id + ".mp4",
		Model:      "base",
		OutputKind: pipeline.OutputPDF,
		StartedAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewManager(t *testing.T) {
	manager := NewManager(nil)
	assert.NotNil(t, manager)
	assert.Empty(t, manager.ListRuns())
}

func TestRunLifecycle(t *testing.T) {
	manager := NewManager(nil)
	manager.RunStarted(runInfo("run-1"))

	run, err := manager.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "pdf", run.OutputKind)
	assert.Equal(t, "base", run.Model)
	assert.Nil(t, run.EndTime)

	timing := &transcriber.Timing{AudioDuration: 60, ProcessingTime: 30, SpeedFactor: 2}
	manager.RunFinished("run-1", "/out/run-1.pdf", timing, nil)

	run, err = manager.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "/out/run-1.pdf", run.OutputPath)
	require.NotNil(t, run.EndTime)
	require.NotNil(t, run.Timing)
	assert.Equal(t, 2.0, run.Timing.SpeedFactor)

	timing.SpeedFactor = 99
	run, _ = manager.GetRun("run-1")
	assert.Equal(t, 2.0, run.Timing.SpeedFactor, "Timing should be copied")
}

func TestRunFailed(t *testing.T) {
	manager := NewManager(nil)
	manager.RunStarted(runInfo("run-1"))
	manager.RunFinished("run-1", "", nil, errors.New("ffmpeg exploded"))

	run, err := manager.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "ffmpeg exploded", run.Error)
	assert.Nil(t, run.Timing)
}

func TestRunFinishedUnknown(t *testing.T) {
	manager := NewManager(nil)
	manager.RunFinished("missing", "", nil, nil)

	assert.Empty(t, manager.ListRuns())
}

func TestGetRunNotFound(t *testing.T) {
	_, err := NewManager(nil).GetRun("non-existent")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsKeepsOrder(t *testing.T) {
	manager := NewManager(nil)
	for i := 0; i < 5; i++ {
		manager.RunStarted(runInfo(fmt.Sprintf("run-%d", i)))
	}

	runs := manager.ListRuns()
	require.Len(t, runs, 5)
	for i, run := range runs {
		assert.Equal(t, fmt.Sprintf("run-%d", i), run.ID)
	}
}

func TestExportRun(t *testing.T) {
	manager := NewManager(nil)
	manager.RunStarted(runInfo("run-1"))
	manager.RunFinished("run-1", "/out/run-1.pdf", &transcriber.Timing{AudioDuration: 10}, nil)

	dir := filepath.Join(t.TempDir(), "exports")
	path, err := manager.ExportRun("run-1", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_run-1_20250301_100000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var exported Run
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Equal(t, "run-1", exported.ID)
	assert.Equal(t, StatusCompleted, exported.Status)
	assert.Equal(t, "/out/run-1.pdf", exported.OutputPath)

	_, err = manager.ExportRun("missing", dir)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestConcurrentAccess(t *testing.T) {
	manager := NewManager(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", n)
			manager.RunStarted(runInfo(id))
			manager.RunFinished(id, "", nil, nil)
			_ = manager.ListRuns()
		}(i)
	}
	wg.Wait()

	assert.Len(t, manager.ListRuns(), 20)
}

func TestManagerWithStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := OpenStore(ctx, path, 0, nil)
	require.NoError(t, err)

	manager, err := NewManagerWithStore(ctx, store, nil)
	require.NoError(t, err)
	manager.RunStarted(runInfo("run-1"))
	manager.RunFinished("run-1", "/out/run-1.pdf", &transcriber.Timing{AudioDuration: 60, ProcessingTime: 20, SpeedFactor: 3}, nil)
	require.NoError(t, store.Close())

	store, err = OpenStore(ctx, path, 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reloaded, err := NewManagerWithStore(ctx, store, nil)
	require.NoError(t, err)

	run, err := reloaded.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "/videos/run-1.mp4", run.VideoPath)
	assert.True(t, run.StartTime.Equal(runInfo("run-1").StartedAt))
	require.NotNil(t, run.EndTime)
	require.NotNil(t, run.Timing)
	assert.Equal(t, 3.0, run.Timing.SpeedFactor)
}
