package transcriber

import (
	"errors"
	"fmt"
)

// ErrEngineUnavailable is returned when an engine's executable or runtime is missing
var ErrEngineUnavailable = errors.New("transcription engine unavailable")

// EngineError wraps any failure raised by the underlying engine
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("engine %s: %v", e.Engine, e.Err)
}

// Unwrap exposes the engine's own error
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
