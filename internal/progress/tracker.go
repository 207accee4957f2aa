package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/estimate"
	"github.com/snoozleEmily/transcriptor/internal/feedback"
	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

// StageStalled tags the still-working notices sent while a run sits near
// completion. Those events repeat the current percent and never change it.
const StageStalled = "stalled"

// StageSetup tags the notice sent while the model loads. The percent stays
// at 0 and the transcription clock starts once setup time has passed.
const StageSetup = "setup"

// nearComplete is where time based interpolation stops; 100 is reserved
// for real completion or the watchdog
const nearComplete = 99

// ErrTrackerNotIdle is returned by Start on a tracker that was already used
var ErrTrackerNotIdle = errors.New("progress tracker already started")

// State of a tracker
type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Config holds timer settings
type Config struct {
	// Interval between interpolation ticks
	Interval time.Duration
	// SafetyBuffer is added to the mean estimate before the watchdog fires
	SafetyBuffer time.Duration
	// MinimalBuffer is the watchdog delay when there is no usable estimate
	MinimalBuffer time.Duration
	// HeartbeatInterval spaces the still-working notices
	HeartbeatInterval time.Duration
	// GracePeriod bounds how long Complete and Stop wait for timers to exit
	GracePeriod time.Duration
}

// DefaultConfig returns the reference timer settings
func DefaultConfig() Config {
	return Config{
		Interval:          200 * time.Millisecond,
		SafetyBuffer:      time.Second,
		MinimalBuffer:     100 * time.Millisecond,
		HeartbeatInterval: 2600 * time.Millisecond,
		GracePeriod:       500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.SafetyBuffer <= 0 {
		c.SafetyBuffer = d.SafetyBuffer
	}
	if c.MinimalBuffer <= 0 {
		c.MinimalBuffer = d.MinimalBuffer
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	return c
}

// Tracker owns the 0-100 progress of one run. Three timers drive it
// alongside engine updates: an interpolator following the estimate, a
// watchdog forcing 100 once the estimate is overrun, and a stall notifier.
// Every write to the percent goes through the tracker mutex, and events
// are emitted under it, so onEvent must not call back into the tracker.
// Once onEvent reports the receiver gone the timers stop and nothing more
// is emitted.
type Tracker struct {
	cfg    Config
	logger *logrus.Entry

	mu            sync.Mutex
	state         State
	percent       int
	startedAt     time.Time
	estimate      estimate.Estimate
	audioDuration time.Duration
	onEvent       feedback.Emitter
	silenced      bool
	nearSince     time.Time
	stallNotified bool
	lastBeat      time.Time
	timing        *transcriber.Timing
	cancel        context.CancelFunc

	wg sync.WaitGroup
}

// New creates an idle tracker. A nil logger discards diagnostics.
func New(cfg Config, logger *logrus.Entry) *Tracker {
	return &Tracker{
		cfg:    cfg.withDefaults(),
		logger: logging.OrNop(logger).WithField("component", "progress"),
	}
}

// Start begins tracking a run against est. The estimate's setup time is
// spent at 0 percent before interpolation begins, and the watchdog waits
// for setup plus the mean. The timers stop when ctx is done or the tracker
// leaves Running.
func (t *Tracker) Start(ctx context.Context, est estimate.Estimate, audioDuration time.Duration, onEvent feedback.Emitter) error {
	if onEvent == nil {
		onEvent = func(feedback.Event) bool { return true }
	}

	t.mu.Lock()
	if t.state != Idle {
		t.mu.Unlock()
		return ErrTrackerNotIdle
	}

	timerCtx, cancel := context.WithCancel(ctx)
	t.state = Running
	t.percent = 0
	t.startedAt = time.Now()
	t.estimate = est
	t.audioDuration = audioDuration
	t.onEvent = onEvent
	t.cancel = cancel
	if setup := est.Setup(); setup > 0 {
		event := feedback.Progress(0, fmt.Sprintf("Initializing model, about %s", setup.Round(time.Second)))
		event.Stage = StageSetup
		t.emitLocked(event)
	}
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"mean_seconds": est.MeanSeconds,
		"low_seconds":  est.LowSeconds,
		"high_seconds": est.HighSeconds,
		"setup":        est.Setup(),
	}).Debug("Progress tracking started")

	if est.MeanSeconds > 0 {
		t.spawn(timerCtx, "interpolator", t.runInterpolator)
	}
	t.spawn(timerCtx, "watchdog", t.runWatchdog)
	t.spawn(timerCtx, "stall", t.runStallNotifier)

	return nil
}

func (t *Tracker) spawn(ctx context.Context, name string, body func(context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.WithFields(logrus.Fields{
					"timer": name,
					"panic": r,
				}).Error("Progress timer panic recovered")
			}
		}()
		body(ctx)
	}()
}

func (t *Tracker) runInterpolator(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.interpolate() {
				return
			}
		}
	}
}

// interpolate advances the percent from elapsed time. It returns false
// once there is nothing left to interpolate.
func (t *Tracker) interpolate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return false
	}
	if t.percent >= nearComplete {
		return false
	}

	elapsed := time.Since(t.startedAt) - t.estimate.Setup()
	if elapsed <= 0 {
		return true
	}
	candidate := int(math.Floor(elapsed.Seconds() / t.estimate.MeanSeconds * 100))
	if candidate > nearComplete {
		candidate = nearComplete
	}
	if candidate > t.percent {
		t.setPercentLocked(candidate, fmt.Sprintf("Transcribing (%d%%)", candidate))
	}
	return true
}

func (t *Tracker) watchdogDelay() time.Duration {
	if t.estimate.MeanSeconds <= 0 {
		return t.estimate.Setup() + t.cfg.MinimalBuffer
	}
	return t.estimate.Total() + t.cfg.SafetyBuffer
}

func (t *Tracker) runWatchdog(ctx context.Context) {
	t.mu.Lock()
	delay := t.watchdogDelay()
	t.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Running && t.percent < 100 {
		t.logger.WithField("percent", t.percent).Debug("Estimate exceeded, forcing progress to 100")
		t.setPercentLocked(100, "Finalizing transcription")
	}
}

// stallWindow is how long the percent may sit near completion before the
// caller is told the run is still alive
func (t *Tracker) stallWindow() time.Duration {
	margin := time.Duration((t.estimate.HighSeconds - t.estimate.MeanSeconds) * float64(time.Second))
	if margin < t.cfg.SafetyBuffer {
		return t.cfg.SafetyBuffer
	}
	return margin
}

func (t *Tracker) runStallNotifier(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.checkStall() {
				return
			}
		}
	}
}

func (t *Tracker) checkStall() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return false
	}
	if t.nearSince.IsZero() {
		return true
	}

	now := time.Now()
	if !t.stallNotified {
		if now.Sub(t.nearSince) <= t.stallWindow() {
			return true
		}
		t.stallNotified = true
		t.lastBeat = now
		t.logger.WithField("elapsed", now.Sub(t.startedAt).Round(time.Second)).Warn("Transcription is taking longer than expected")
		t.emitStallLocked("Transcription is taking longer than expected, please do not close the app")
		return true
	}

	if now.Sub(t.lastBeat) >= t.cfg.HeartbeatInterval {
		t.lastBeat = now
		elapsed := int(now.Sub(t.startedAt).Seconds())
		t.emitStallLocked(fmt.Sprintf("Still transcribing, elapsed %ds", elapsed))
	}
	return true
}

func (t *Tracker) emitStallLocked(message string) {
	event := feedback.Progress(t.percent, message)
	event.Stage = StageStalled
	t.emitLocked(event)
}

// emitLocked delivers event unless the receiver already went away. When
// the receiver reports itself gone the timers are cancelled.
func (t *Tracker) emitLocked(event feedback.Event) {
	if t.silenced {
		return
	}
	if t.onEvent(event) {
		return
	}
	t.silenced = true
	t.logger.Debug("Event receiver closed, stopping progress timers")
	if t.cancel != nil {
		t.cancel()
	}
}

// setPercentLocked records a strictly higher percent and emits it
func (t *Tracker) setPercentLocked(percent int, message string) {
	t.percent = percent
	if percent >= nearComplete && t.nearSince.IsZero() {
		t.nearSince = time.Now()
	}
	t.emitLocked(feedback.Progress(percent, message))
}

// Update applies an engine reported percent. Values are clamped to
// [0,100]; anything not above the current percent is ignored, as is any
// call outside a running run.
func (t *Tracker) Update(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running || percent <= t.percent {
		return
	}
	t.setPercentLocked(percent, fmt.Sprintf("Transcribing (%d%%)", percent))
}

// Complete finishes a successful run: timers are stopped, a final
// Progress{100} is emitted unless 100 was already reached, and timing
// metadata is attached to res. Later calls only attach the stored timing.
func (t *Tracker) Complete(res *transcriber.Result) *transcriber.Result {
	t.mu.Lock()
	switch t.state {
	case Completed:
		timing := t.timing
		t.mu.Unlock()
		return attachTiming(res, timing)
	case Running:
	default:
		t.mu.Unlock()
		return res
	}

	t.state = Completed
	if t.percent < 100 {
		t.percent = 100
		t.emitLocked(feedback.Progress(100, "Transcription complete"))
	}

	processing := time.Since(t.startedAt)
	timing := &transcriber.Timing{
		AudioDuration:  t.audioDuration,
		ProcessingTime: processing,
	}
	if processing > 0 {
		timing.SpeedFactor = t.audioDuration.Seconds() / processing.Seconds()
	}
	t.timing = timing
	cancel := t.cancel
	t.mu.Unlock()

	t.stopTimers(cancel)

	t.logger.WithFields(logrus.Fields{
		"processing_time": processing.Round(time.Millisecond),
		"speed_factor":    timing.SpeedFactor,
	}).Debug("Progress tracking completed")

	return attachTiming(res, timing)
}

// Stop ends a failed run. It emits nothing and is a no-op unless Running.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.state != Running {
		t.mu.Unlock()
		return
	}
	t.state = Failed
	cancel := t.cancel
	t.mu.Unlock()

	t.stopTimers(cancel)
}

func (t *Tracker) stopTimers(cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(t.cfg.GracePeriod):
		t.logger.WithField("grace_period", t.cfg.GracePeriod).Warn("Progress timers did not exit within grace period")
	}
}

// Percent returns the current percent
func (t *Tracker) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

// State returns the current state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Timing returns the timing recorded by Complete, or nil
func (t *Tracker) Timing() *transcriber.Timing {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timing
}

func attachTiming(res *transcriber.Result, timing *transcriber.Timing) *transcriber.Result {
	if res == nil || timing == nil {
		return res
	}
	copied := *timing
	res.Timing = &copied
	return res
}
