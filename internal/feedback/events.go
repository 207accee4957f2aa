package feedback

import (
	"time"
)

// Kind tags the variant carried by an Event
type Kind string

const (
	// KindProgress carries a percent and an optional human readable message
	KindProgress Kind = "progress"

	// KindStage announces which pipeline step is running
	KindStage Kind = "stage"

	// KindCompleted is the terminal success event of a run
	KindCompleted Kind = "completed"

	// KindFailed is the terminal failure event of a run
	KindFailed Kind = "failed"
)

// Event is one notification produced by the pipeline worker or the progress
// timers. Exactly one terminal event (completed or failed) closes each run.
type Event struct {
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"runId,omitempty"`
	Kind       Kind      `json:"kind"`
	Percent    int       `json:"percent,omitempty"`
	Message    string    `json:"message,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	Err        error     `json:"-"`
}

// Handler receives events
type Handler func(event Event)

// Emitter delivers an event and reports whether the receiver still accepts
// events. Producers stop emitting once it returns false.
type Emitter func(event Event) bool

// Emitter adapts h to a receiver that never goes away
func (h Handler) Emitter() Emitter {
	return func(event Event) bool {
		h(event)
		return true
	}
}

// Progress builds a progress event
func Progress(percent int, message string) Event {
	return Event{Kind: KindProgress, Percent: percent, Message: message}
}

// Stage builds a stage event
func Stage(stage, message string) Event {
	return Event{Kind: KindStage, Stage: stage, Message: message}
}

// Completed builds the terminal success event
func Completed(outputPath string) Event {
	return Event{Kind: KindCompleted, Percent: 100, OutputPath: outputPath}
}

// Failed builds the terminal failure event
func Failed(err error) Event {
	e := Event{Kind: KindFailed, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// IsTerminal reports whether the event ends a run
func (e Event) IsTerminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindFailed
}

// WithRun stamps the run ID on a copy of the event
func (e Event) WithRun(runID string) Event {
	e.RunID = runID
	return e
}
