package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"

	_ "modernc.org/sqlite"
)

// Store persists run history in SQLite
type Store struct {
	db      *sql.DB
	maxRuns int
	logger  *logrus.Entry
}

// OpenStore opens or creates the history database at path. When maxRuns is
// positive only the newest maxRuns runs are kept.
func OpenStore(ctx context.Context, path string, maxRuns int, logger *logrus.Entry) (*Store, error) {
	logger = logging.OrNop(logger).WithField("component", "session_store")

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, maxRuns: maxRuns, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := s.Prune(ctx); err != nil {
		logger.WithError(err).Warn("Run history prune on start failed")
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    video_path TEXT NOT NULL,
    model TEXT,
    output_kind TEXT,
    status TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    output_path TEXT,
    error TEXT,
    audio_duration REAL,
    processing_time REAL,
    speed_factor REAL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRun inserts or updates a run
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	var ended sql.NullInt64
	if run.EndTime != nil {
		ended = sql.NullInt64{Int64: run.EndTime.UnixNano(), Valid: true}
	}
	var audio, processing, speed sql.NullFloat64
	if run.Timing != nil {
		audio = sql.NullFloat64{Float64: float64(run.Timing.AudioDuration), Valid: true}
		processing = sql.NullFloat64{Float64: float64(run.Timing.ProcessingTime), Valid: true}
		speed = sql.NullFloat64{Float64: run.Timing.SpeedFactor, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, video_path, model, output_kind, status, started_at, ended_at,
		                  output_path, error, audio_duration, processing_time, speed_factor)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		     status=excluded.status, ended_at=excluded.ended_at, output_path=excluded.output_path,
		     error=excluded.error, audio_duration=excluded.audio_duration,
		     processing_time=excluded.processing_time, speed_factor=excluded.speed_factor`,
		run.ID, run.VideoPath, run.Model, run.OutputKind, string(run.Status), run.StartTime.UnixNano(), ended,
		run.OutputPath, run.Error, audio, processing, speed)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if run.EndTime != nil {
		return s.Prune(ctx)
	}
	return nil
}

// ListRuns returns all stored runs, oldest first
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, video_path, model, output_kind, status, started_at, ended_at,
		        output_path, error, audio_duration, processing_time, speed_factor
		 FROM runs ORDER BY started_at ASC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                       Run
			model, kind, out, errText sql.NullString
			status                    string
			started                   int64
			ended                     sql.NullInt64
			audio, processing, speed  sql.NullFloat64
		)
		if err := rows.Scan(&run.ID, &run.VideoPath, &model, &kind, &status, &started, &ended,
			&out, &errText, &audio, &processing, &speed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		run.Model = model.String
		run.OutputKind = kind.String
		run.Status = Status(status)
		run.StartTime = time.Unix(0, started)
		run.OutputPath = out.String
		run.Error = errText.String
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			run.EndTime = &t
		}
		if audio.Valid || processing.Valid {
			run.Timing = &transcriber.Timing{
				AudioDuration:  time.Duration(audio.Float64),
				ProcessingTime: time.Duration(processing.Float64),
				SpeedFactor:    speed.Float64,
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune removes the oldest finished runs beyond maxRuns
func (s *Store) Prune(ctx context.Context) error {
	if s.maxRuns <= 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE ended_at IS NOT NULL AND run_id NOT IN (
		     SELECT run_id FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?
		 )`, s.maxRuns)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.WithField("removed", n).Debug("Pruned run history")
	}
	return nil
}
