package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/snoozleEmily/transcriptor/internal/estimate"
	"github.com/snoozleEmily/transcriptor/internal/feedback"
	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/internal/progress"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

const instrumentationName = "github.com/snoozleEmily/transcriptor/pipeline"

// Pipeline step names, carried by Stage events and IOError
const (
	StageExtract    = "extract"
	StageClean      = "clean"
	StageTranscribe = "transcribe"
	StageRevise     = "revise"
	StageSave       = "save"
)

// Temperatures used when none is configured; constrained content decodes
// more conservatively
const (
	SpecialContentTemperature = 0.2
	DefaultTemperature        = 0.5
)

// AudioExtractor pulls the audio track out of a video file
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath string) (transcriber.Audio, error)
}

// AudioCleaner prepares extracted audio for transcription
type AudioCleaner interface {
	CleanAudio(ctx context.Context, audio transcriber.Audio) (transcriber.Audio, error)
}

// Reviser post-processes the transcript text
type Reviser interface {
	Revise(text string, vocabulary map[string][]string) string
}

// Annotator derives study notes from a transcript. An empty result adds
// nothing to the document.
type Annotator interface {
	Annotate(text string, segments []transcriber.Segment, language string) string
}

// Saver writes the final document
type Saver interface {
	Save(ctx context.Context, text string, kind OutputKind, destination string) error
}

// RunInfo identifies a run for a Recorder
type RunInfo struct {
	ID         string
	VideoPath  string
	Model      string
	OutputKind OutputKind
	StartedAt  time.Time
}

// Recorder keeps run history. Calls happen on the worker goroutine.
type Recorder interface {
	RunStarted(info RunInfo)
	RunFinished(runID string, outputPath string, timing *transcriber.Timing, err error)
}

// Dependencies are the collaborators of a Runner. Annotator and Recorder
// are optional.
type Dependencies struct {
	Extractor AudioExtractor
	Cleaner   AudioCleaner
	Engine    transcriber.Transcriber
	Reviser   Reviser
	Annotator Annotator
	Saver     Saver
	Recorder  Recorder
}

// Config holds runner settings
type Config struct {
	Model string
	// Temperature overrides the content based default when > 0
	Temperature float64
	// Language is passed to the engine unless the content is multilingual
	Language  string
	BeamSize  int
	BestOf    int
	OutputDir string
	Progress  progress.Config
}

// Metrics tracks runner statistics
type Metrics struct {
	RunsStarted        int64
	RunsCompleted      int64
	RunsFailed         int64
	RunsRejected       int64
	TotalProcessTime   int64 // in milliseconds
	AverageProcessTime int64 // in milliseconds
}

// Status is a snapshot of the active run
type Status struct {
	Running   bool      `json:"running"`
	RunID     string    `json:"runId,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Percent   int       `json:"percent"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

type activeRun struct {
	id        string
	stage     string
	startedAt time.Time
	tracker   *progress.Tracker
}

type instruments struct {
	runs     metric.Int64Counter
	rejected metric.Int64Counter
	duration metric.Float64Histogram
}

// Runner executes at most one pipeline run at a time. A Start while a run
// is active is ignored.
type Runner struct {
	cfg       Config
	deps      Dependencies
	profile   estimate.ModelProfile
	estimator estimate.Estimator
	adapter   *transcriber.Adapter
	logger    *logrus.Entry

	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	current *activeRun

	metrics Metrics
	inst    instruments
	tracer  trace.Tracer
}

// NewRunner validates the configuration and negotiates the engine's
// progress capability. An unknown model fails here, never mid-run.
func NewRunner(cfg Config, deps Dependencies, logger *logrus.Entry) (*Runner, error) {
	profile, err := estimate.LookupProfile(cfg.Model)
	if err != nil {
		return nil, err
	}

	switch {
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: audio extractor", ErrMissingDependency)
	case deps.Cleaner == nil:
		return nil, fmt.Errorf("%w: audio cleaner", ErrMissingDependency)
	case deps.Engine == nil:
		return nil, fmt.Errorf("%w: transcription engine", ErrMissingDependency)
	case deps.Reviser == nil:
		return nil, fmt.Errorf("%w: reviser", ErrMissingDependency)
	case deps.Saver == nil:
		return nil, fmt.Errorf("%w: saver", ErrMissingDependency)
	}

	log := logging.OrNop(logger).WithField("component", "pipeline")

	r := &Runner{
		cfg:       cfg,
		deps:      deps,
		profile:   profile,
		estimator: estimate.Default(),
		adapter:   transcriber.NewAdapter(deps.Engine, log),
		logger:    log,
		tracer:    otel.Tracer(instrumentationName),
	}
	r.inst = newInstruments(otel.Meter(instrumentationName), log)

	log.WithFields(logrus.Fields{
		"model":      profile.Name,
		"capability": r.adapter.Capability().String(),
	}).Info("Pipeline runner ready")

	return r, nil
}

func newInstruments(meter metric.Meter, logger *logrus.Entry) instruments {
	inst := instruments{
		runs:     noop.Int64Counter{},
		rejected: noop.Int64Counter{},
		duration: noop.Float64Histogram{},
	}

	if c, err := meter.Int64Counter("transcriptor.pipeline.runs", metric.WithDescription("Finished pipeline runs by outcome")); err == nil {
		inst.runs = c
	} else {
		logger.WithError(err).Warn("Failed to create runs counter")
	}
	if c, err := meter.Int64Counter("transcriptor.pipeline.rejected", metric.WithDescription("Start calls ignored while a run was active")); err == nil {
		inst.rejected = c
	} else {
		logger.WithError(err).Warn("Failed to create rejected counter")
	}
	if h, err := meter.Float64Histogram("transcriptor.pipeline.run.duration", metric.WithUnit("s"), metric.WithDescription("Pipeline run duration")); err == nil {
		inst.duration = h
	} else {
		logger.WithError(err).Warn("Failed to create duration histogram")
	}
	return inst
}

// Profile returns the resolved model profile
func (r *Runner) Profile() estimate.ModelProfile {
	return r.profile
}

// Capability returns the negotiated engine progress capability
func (r *Runner) Capability() transcriber.Capability {
	return r.adapter.Capability()
}

// Start launches a run in the background and returns true, or returns
// false without side effects on the active run when one is in flight.
// onEvent receives every event of the run, the terminal one last and only
// after the runner is ready for the next Start. Once onEvent returns false
// the run carries on without emitting.
func (r *Runner) Start(ctx context.Context, req Request, onEvent feedback.Emitter) bool {
	if !r.running.CompareAndSwap(false, true) {
		atomic.AddInt64(&r.metrics.RunsRejected, 1)
		r.inst.rejected.Add(ctx, 1)
		r.logger.WithField("video", req.VideoPath).Info("Run already in progress, ignoring start request")
		return false
	}

	if onEvent == nil {
		onEvent = func(feedback.Event) bool { return true }
	}

	runID := uuid.New().String()
	tracker := progress.New(r.cfg.Progress, r.logger.WithField("run_id", runID))
	run := &activeRun{id: runID, startedAt: time.Now(), tracker: tracker}

	r.mu.Lock()
	r.current = run
	r.mu.Unlock()

	atomic.AddInt64(&r.metrics.RunsStarted, 1)

	var gone atomic.Bool
	emit := func(event feedback.Event) bool {
		if gone.Load() {
			return false
		}
		if onEvent(event.WithRun(runID)) {
			return true
		}
		if !gone.Swap(true) {
			r.logger.WithField("run_id", runID).Debug("Event receiver closed, run continues without events")
		}
		return false
	}

	r.wg.Add(1)
	go r.work(ctx, run, req, emit)

	return true
}

// Running reports whether a run is in flight
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Wait blocks until the in-flight worker, if any, has exited
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status returns a snapshot of the active run
func (r *Runner) Status() Status {
	r.mu.Lock()
	run := r.current
	var stage string
	if run != nil {
		stage = run.stage
	}
	r.mu.Unlock()

	if run == nil {
		return Status{}
	}
	return Status{
		Running:   true,
		RunID:     run.id,
		Stage:     stage,
		Percent:   run.tracker.Percent(),
		StartedAt: run.startedAt,
	}
}

// Metrics returns a snapshot of runner statistics
func (r *Runner) Metrics() Metrics {
	m := Metrics{
		RunsStarted:      atomic.LoadInt64(&r.metrics.RunsStarted),
		RunsCompleted:    atomic.LoadInt64(&r.metrics.RunsCompleted),
		RunsFailed:       atomic.LoadInt64(&r.metrics.RunsFailed),
		RunsRejected:     atomic.LoadInt64(&r.metrics.RunsRejected),
		TotalProcessTime: atomic.LoadInt64(&r.metrics.TotalProcessTime),
	}
	if finished := m.RunsCompleted + m.RunsFailed; finished > 0 {
		m.AverageProcessTime = m.TotalProcessTime / finished
	}
	return m
}

// Close releases the engine. Call it only once no run is active.
func (r *Runner) Close() error {
	return r.adapter.Close()
}

func (r *Runner) work(ctx context.Context, run *activeRun, req Request, emit feedback.Emitter) {
	defer r.wg.Done()

	logger := r.logger.WithFields(logrus.Fields{
		"run_id": run.id,
		"video":  req.VideoPath,
	})

	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.id),
		attribute.String("model", r.profile.Name),
	))

	var (
		outputPath string
		timing     *transcriber.Timing
		runErr     error
	)

	defer func() {
		if p := recover(); p != nil {
			runErr = fmt.Errorf("%w: %v", ErrWorkerPanic, p)
			logger.WithField("panic", p).Error("Pipeline worker panic recovered")
		}

		run.tracker.Stop()
		r.finish(ctx, run, span, outputPath, timing, runErr, logger)

		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
		r.running.Store(false)

		terminal := feedback.Completed(outputPath)
		if runErr != nil {
			logger.WithError(runErr).Error("Pipeline run failed")
			terminal = feedback.Failed(runErr)
		} else {
			logger.WithField("output", outputPath).Info("Pipeline run completed")
		}
		sendTerminal(emit, terminal, logger)
	}()

	if r.deps.Recorder != nil {
		r.deps.Recorder.RunStarted(RunInfo{
			ID:         run.id,
			VideoPath:  req.VideoPath,
			Model:      r.profile.Name,
			OutputKind: req.OutputKind,
			StartedAt:  run.startedAt,
		})
	}

	outputPath, timing, runErr = r.execute(ctx, run, req, emit, logger)
}

// sendTerminal delivers the one terminal event of a run. A panicking
// receiver is logged; the run is already over.
func sendTerminal(emit feedback.Emitter, event feedback.Event, logger *logrus.Entry) {
	defer func() {
		if p := recover(); p != nil {
			logger.WithFields(logrus.Fields{
				"kind":  event.Kind,
				"panic": p,
			}).Error("Event receiver panic on terminal event")
		}
	}()

	emit(event)
}

func (r *Runner) execute(ctx context.Context, run *activeRun, req Request, emit feedback.Emitter, logger *logrus.Entry) (string, *transcriber.Timing, error) {
	if req.VideoPath == "" {
		return "", nil, &IOError{Step: StageExtract, Err: ErrEmptyVideoPath}
	}

	r.enterStage(ctx, run, emit, StageExtract, "Extracting audio")
	audio, err := r.deps.Extractor.ExtractAudio(ctx, req.VideoPath)
	if err != nil {
		return "", nil, &IOError{Step: StageExtract, Path: req.VideoPath, Err: err}
	}

	r.enterStage(ctx, run, emit, StageClean, "Cleaning audio")
	audio, err = r.deps.Cleaner.CleanAudio(ctx, audio)
	if err != nil {
		return "", nil, &IOError{Step: StageClean, Path: req.VideoPath, Err: err}
	}

	est, err := r.estimator.Estimate(audio.Seconds(), req.Content.VocabularySize(), r.profile)
	if err != nil {
		return "", nil, err
	}

	logger.WithFields(logrus.Fields{
		"audio_seconds": audio.Seconds(),
		"mean_seconds":  est.MeanSeconds,
		"high_seconds":  est.HighSeconds,
		"setup_seconds": est.SetupSeconds,
	}).Info("Transcription estimate ready")

	message := fmt.Sprintf("Transcribing, about %s", est.Mean().Round(time.Second))
	if est.Setup() > 0 {
		message = fmt.Sprintf("Loading model and transcribing, about %s", est.Total().Round(time.Second))
	}
	r.enterStage(ctx, run, emit, StageTranscribe, message)
	if err := run.tracker.Start(ctx, est, audio.Duration(), emit); err != nil {
		return "", nil, err
	}

	result, err := r.adapter.Transcribe(ctx, audio, r.options(req.Content), func(percent float64) {
		run.tracker.Update(int(math.Floor(percent)))
	})
	if err != nil {
		return "", nil, err
	}
	result = run.tracker.Complete(result)

	r.enterStage(ctx, run, emit, StageRevise, "Revising text")
	text := r.deps.Reviser.Revise(result.Text, req.Content.Words)
	if r.deps.Annotator != nil {
		if notes := r.deps.Annotator.Annotate(text, result.Segments, result.Language); notes != "" {
			text += "\n\n" + notes
		}
	}

	destination := req.destination(r.cfg.OutputDir)
	r.enterStage(ctx, run, emit, StageSave, "Saving "+req.OutputKind.String())
	if err := r.deps.Saver.Save(ctx, text, req.OutputKind, destination); err != nil {
		return "", result.Timing, &IOError{Step: StageSave, Path: destination, Err: err}
	}

	return destination, result.Timing, nil
}

func (r *Runner) options(content ContentConfig) transcriber.Options {
	opts := transcriber.Options{
		InitialPrompt: BuildPrompt(content),
		Temperature:   r.cfg.Temperature,
		Language:      r.cfg.Language,
		BeamSize:      r.cfg.BeamSize,
		BestOf:        r.cfg.BestOf,
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
		if content.IsSpecial() {
			opts.Temperature = SpecialContentTemperature
		}
	}
	if content.IsMultilingual {
		opts.Language = ""
	}
	return opts
}

func (r *Runner) enterStage(ctx context.Context, run *activeRun, emit feedback.Emitter, stage, message string) {
	r.mu.Lock()
	run.stage = stage
	r.mu.Unlock()

	trace.SpanFromContext(ctx).AddEvent("stage", trace.WithAttributes(attribute.String("stage", stage)))
	emit(feedback.Stage(stage, message))
}

func (r *Runner) finish(ctx context.Context, run *activeRun, span trace.Span, outputPath string, timing *transcriber.Timing, runErr error, logger *logrus.Entry) {
	elapsed := time.Since(run.startedAt)
	atomic.AddInt64(&r.metrics.TotalProcessTime, elapsed.Milliseconds())

	outcome := "completed"
	if runErr != nil {
		outcome = "failed"
		atomic.AddInt64(&r.metrics.RunsFailed, 1)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		atomic.AddInt64(&r.metrics.RunsCompleted, 1)
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("model", r.profile.Name))
	r.inst.runs.Add(ctx, 1, attrs)
	r.inst.duration.Record(ctx, elapsed.Seconds(), attrs)

	if r.deps.Recorder != nil {
		r.recordFinished(run.id, outputPath, timing, runErr, logger)
	}
}

func (r *Runner) recordFinished(runID, outputPath string, timing *transcriber.Timing, runErr error, logger *logrus.Entry) {
	defer func() {
		if p := recover(); p != nil {
			logger.WithField("panic", p).Error("Run recorder panic recovered")
		}
	}()

	r.deps.Recorder.RunFinished(runID, outputPath, timing, runErr)
}
