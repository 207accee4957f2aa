package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/internal/pipeline"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

// ErrRunNotFound is returned for unknown run IDs
var ErrRunNotFound = errors.New("run not found")

// Status of a recorded run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const persistTimeout = 5 * time.Second

// Run is the history entry of one pipeline run
type Run struct {
	ID         string              `json:"id"`
	VideoPath  string              `json:"videoPath"`
	Model      string              `json:"model"`
	OutputKind string              `json:"outputKind"`
	Status     Status              `json:"status"`
	StartTime  time.Time           `json:"startTime"`
	EndTime    *time.Time          `json:"endTime,omitempty"`
	OutputPath string              `json:"outputPath,omitempty"`
	Error      string              `json:"error,omitempty"`
	Timing     *transcriber.Timing `json:"timing,omitempty"`
}

// Manager keeps the history of pipeline runs, optionally persisted
type Manager struct {
	runs   map[string]*Run
	order  []string
	store  *Store
	mu     sync.RWMutex
	logger *logrus.Entry
}

// NewManager creates an in-memory run history
func NewManager(logger *logrus.Entry) *Manager {
	return &Manager{
		runs:   make(map[string]*Run),
		logger: logging.OrNop(logger).WithField("component", "session"),
	}
}

// NewManagerWithStore creates a run history backed by store and loads the
// runs already persisted there
func NewManagerWithStore(ctx context.Context, store *Store, logger *logrus.Entry) (*Manager, error) {
	m := NewManager(logger)
	m.store = store

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load run history: %w", err)
	}
	for i := range runs {
		run := runs[i]
		m.runs[run.ID] = &run
		m.order = append(m.order, run.ID)
	}

	m.logger.WithField("runs", len(runs)).Debug("Run history loaded")
	return m, nil
}

// RunStarted records a new run
func (m *Manager) RunStarted(info pipeline.RunInfo) {
	run := &Run{
		ID:         info.ID,
		VideoPath:  info.VideoPath,
		Model:      info.Model,
		OutputKind: info.OutputKind.String(),
		Status:     StatusRunning,
		StartTime:  info.StartedAt,
	}

	m.mu.Lock()
	if _, exists := m.runs[run.ID]; !exists {
		m.order = append(m.order, run.ID)
	}
	m.runs[run.ID] = run
	snapshot := *run
	m.mu.Unlock()

	m.persist(snapshot)
}

// RunFinished records the outcome of a run
func (m *Manager) RunFinished(runID string, outputPath string, timing *transcriber.Timing, err error) {
	m.mu.Lock()
	run, exists := m.runs[runID]
	if !exists {
		m.mu.Unlock()
		m.logger.WithField("run_id", runID).Warn("Finished run was never started")
		return
	}

	now := time.Now()
	run.EndTime = &now
	run.OutputPath = outputPath
	if timing != nil {
		t := *timing
		run.Timing = &t
	}
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	} else {
		run.Status = StatusCompleted
	}
	snapshot := *run
	m.mu.Unlock()

	m.persist(snapshot)
}

func (m *Manager) persist(run Run) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := m.store.SaveRun(ctx, run); err != nil {
		m.logger.WithError(err).WithField("run_id", run.ID).Error("Failed to persist run")
	}
}

// GetRun retrieves a copy of a run by ID
func (m *Manager) GetRun(runID string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[runID]
	if !exists {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return *run, nil
}

// ListRuns returns all runs, oldest first
func (m *Manager) ListRuns() []Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]Run, 0, len(m.order))
	for _, id := range m.order {
		runs = append(runs, *m.runs[id])
	}
	return runs
}

// ExportRun writes a run as indented JSON into dir and returns the file path
func (m *Manager) ExportRun(runID, dir string) (string, error) {
	run, err := m.GetRun(runID)
	if err != nil {
		return "", err
	}

	if dir == "" {
		dir = "exports"
	}
	// #nosec G301 - Export directory needs to be readable for serving files
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	filename := fmt.Sprintf("run_%s_%s.json", run.ID, run.StartTime.Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling run: %w", err)
	}

	// #nosec G306 - Export files need to be readable by the user
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}

	return path, nil
}
