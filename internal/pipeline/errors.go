package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkerPanic wraps a panic recovered inside a pipeline step
	ErrWorkerPanic = errors.New("pipeline worker panic")

	// ErrMissingDependency is returned by NewRunner for an unset collaborator
	ErrMissingDependency = errors.New("missing pipeline dependency")

	// ErrEmptyVideoPath rejects a run without input
	ErrEmptyVideoPath = errors.New("video path is required")
)

// IOError is a failure of the extract, clean or save step
type IOError struct {
	Step string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Step, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
