package transcriber

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
)

// Capability is the progress reporting an engine offers
type Capability int

const (
	// CapabilityNone means the engine reports nothing; progress is left to
	// time based interpolation
	CapabilityNone Capability = iota

	// CapabilityPercent means callbacks are already on a 0-100 scale
	CapabilityPercent

	// CapabilityFraction means callbacks are on a 0-1 scale
	CapabilityFraction
)

func (c Capability) String() string {
	switch c {
	case CapabilityPercent:
		return "percent"
	case CapabilityFraction:
		return "fraction"
	default:
		return "none"
	}
}

// DetectCapability inspects which progress interface engine implements.
// Percent wins when an engine implements both.
func DetectCapability(engine Transcriber) Capability {
	if _, ok := engine.(PercentReporter); ok {
		return CapabilityPercent
	}
	if _, ok := engine.(FractionReporter); ok {
		return CapabilityFraction
	}
	return CapabilityNone
}

// Adapter hides engine differences behind one progress contract. The
// strategy is chosen once, when the adapter is built.
type Adapter struct {
	engine     Transcriber
	name       string
	capability Capability
	logger     *logrus.Entry
}

// NewAdapter negotiates the progress capability of engine
func NewAdapter(engine Transcriber, logger *logrus.Entry) *Adapter {
	a := &Adapter{
		engine:     engine,
		name:       engineName(engine),
		capability: DetectCapability(engine),
	}
	a.logger = logging.OrNop(logger).WithFields(logrus.Fields{
		"engine":     a.name,
		"capability": a.capability.String(),
	})
	a.logger.Debug("Engine adapter ready")

	return a
}

// Capability returns the negotiated strategy
func (a *Adapter) Capability() Capability {
	return a.capability
}

// ReportsProgress tells whether onProgress will ever be called
func (a *Adapter) ReportsProgress() bool {
	return a.capability != CapabilityNone
}

// Engine returns the wrapped engine
func (a *Adapter) Engine() Transcriber {
	return a.engine
}

// Transcribe runs the engine and forwards its progress to onProgress on a
// 0-100 scale. Engine failures come back as *EngineError.
func (a *Adapter) Transcribe(ctx context.Context, audio Audio, opts Options, onProgress func(percent float64)) (*Result, error) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	var (
		result *Result
		err    error
	)

	switch a.capability {
	case CapabilityPercent:
		result, err = a.engine.(PercentReporter).TranscribeWithPercent(ctx, audio, opts, onProgress)
	case CapabilityFraction:
		result, err = a.engine.(FractionReporter).TranscribeWithFraction(ctx, audio, opts, func(fraction float64) {
			onProgress(fraction * 100)
		})
	default:
		result, err = a.engine.Transcribe(ctx, audio, opts)
	}

	if err != nil {
		a.logger.WithError(err).Warn("Engine transcription failed")
		var engineErr *EngineError
		if errors.As(err, &engineErr) {
			return nil, err
		}
		return nil, &EngineError{Engine: a.name, Err: err}
	}
	if result == nil {
		return nil, &EngineError{Engine: a.name, Err: errors.New("engine returned no result")}
	}

	return result, nil
}

// Close closes the wrapped engine
func (a *Adapter) Close() error {
	return a.engine.Close()
}

type named interface {
	Name() string
}

func engineName(engine Transcriber) string {
	if n, ok := engine.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", engine)
}
