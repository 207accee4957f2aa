package transcriber

import (
	"context"
	"fmt"
	"time"
)

// MockTranscriber for testing without actual transcription. It reports no
// progress, like the oldest engine versions.
type MockTranscriber struct {
	// Delay simulates engine work; the context can cut it short
	Delay time.Duration
}

// Name identifies the engine in logs
func (mt *MockTranscriber) Name() string { return "mock" }

func (mt *MockTranscriber) Transcribe(ctx context.Context, audio Audio, opts Options) (*Result, error) {
	if mt.Delay > 0 {
		select {
		case <-time.After(mt.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	text := fmt.Sprintf("[Mock transcript: %.1fs of audio]", audio.Seconds())
	return &Result{
		Text:     text,
		Language: "en",
		Segments: []Segment{{Start: 0, End: audio.Duration(), Text: text}},
	}, nil
}

func (mt *MockTranscriber) Close() error {
	return nil
}
