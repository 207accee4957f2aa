package transcriber

import (
	"context"
	"time"
)

// OptionsVersion identifies the set of options an engine understands.
// Options only grows by adding fields with zero values that keep the
// previous behavior.
const OptionsVersion = 1

// Transcriber is the unified interface for all speech-to-text engines
type Transcriber interface {
	// Transcribe converts audio to text without reporting progress
	Transcribe(ctx context.Context, audio Audio, opts Options) (*Result, error)

	// Close releases resources
	Close() error
}

// PercentReporter is an engine that reports progress on a 0-100 scale
type PercentReporter interface {
	Transcriber
	TranscribeWithPercent(ctx context.Context, audio Audio, opts Options, onPercent func(percent float64)) (*Result, error)
}

// FractionReporter is an engine that reports progress on a 0-1 scale
type FractionReporter interface {
	Transcriber
	TranscribeWithFraction(ctx context.Context, audio Audio, opts Options, onFraction func(fraction float64)) (*Result, error)
}

// Audio is mono 16-bit PCM
type Audio struct {
	Samples    []int16
	SampleRate int
}

// Seconds returns the audio length in seconds
func (a Audio) Seconds() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Duration returns the audio length
func (a Audio) Duration() time.Duration {
	return time.Duration(a.Seconds() * float64(time.Second))
}

// Options lists every engine option the pipeline knows about
type Options struct {
	// InitialPrompt primes the decoder with domain vocabulary
	InitialPrompt string

	// Temperature for sampling (0.0-1.0)
	Temperature float64

	// Language hint (e.g., "en", "pt"); empty or "auto" detects it
	Language string

	// BeamSize for beam search decoding, 0 keeps the engine default
	BeamSize int

	// BestOf candidates when sampling with non-zero temperature
	BestOf int

	// NoContext stops feeding the previous window back as decoder context
	NoContext bool
}

// Segment is one timed piece of the transcript
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Timing describes how long a run took relative to its audio
type Timing struct {
	AudioDuration  time.Duration `json:"audioDuration"`
	ProcessingTime time.Duration `json:"processingTime"`
	SpeedFactor    float64       `json:"speedFactor"`
}

// Result contains the transcription with metadata
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
	Language string    `json:"language,omitempty"`

	// Timing is attached once the progress tracker completes the run
	Timing *Timing `json:"timing,omitempty"`
}
