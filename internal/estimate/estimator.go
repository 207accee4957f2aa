package estimate

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// SpeechRateMu is the average speaking rate in words per second
	SpeechRateMu = 2.5
	// SpeechRateSigma is the standard deviation of the speaking rate
	SpeechRateSigma = 0.5
	// ConfidenceLevel is the default two-tailed confidence interval level
	ConfidenceLevel = 0.95
	// PenaltyPerWord is the slowdown each custom vocabulary term adds
	PenaltyPerWord = 0.005
)

// Estimate is the expected transcription duration with its confidence bounds.
// Invariant: 0 <= LowSeconds <= MeanSeconds <= HighSeconds.
type Estimate struct {
	MeanSeconds  float64 `json:"meanSeconds"`
	LowSeconds   float64 `json:"lowSeconds"`
	HighSeconds  float64 `json:"highSeconds"`
	SetupSeconds float64 `json:"setupSeconds"`
}

// Mean returns the expected transcription time
func (e Estimate) Mean() time.Duration { return seconds(e.MeanSeconds) }

// Low returns the lower confidence bound
func (e Estimate) Low() time.Duration { return seconds(e.LowSeconds) }

// High returns the upper confidence bound
func (e Estimate) High() time.Duration { return seconds(e.HighSeconds) }

// Setup returns the model warm-up time
func (e Estimate) Setup() time.Duration { return seconds(e.SetupSeconds) }

// Total returns setup plus expected transcription time
func (e Estimate) Total() time.Duration { return seconds(e.SetupSeconds + e.MeanSeconds) }

// Estimator turns an audio duration into a transcription time estimate
type Estimator struct {
	ConfidenceLevel float64
	SpeechRateMu    float64
	SpeechRateSigma float64
	PenaltyPerWord  float64
}

// Default returns the estimator with the empirical speech-rate constants
func Default() Estimator {
	return Estimator{
		ConfidenceLevel: ConfidenceLevel,
		SpeechRateMu:    SpeechRateMu,
		SpeechRateSigma: SpeechRateSigma,
		PenaltyPerWord:  PenaltyPerWord,
	}
}

// ForDuration computes times with the default estimator
func ForDuration(durationSeconds float64, customVocabCount int, model ModelProfile) (Estimate, error) {
	return Default().Estimate(durationSeconds, customVocabCount, model)
}

// Estimate computes the mean transcription time and its confidence interval.
// It is pure and safe for concurrent use.
func (e Estimator) Estimate(durationSeconds float64, customVocabCount int, model ModelProfile) (Estimate, error) {
	switch {
	case math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) || durationSeconds < 0:
		return Estimate{}, &ConfigurationError{Field: "duration", Reason: "must be a finite, non-negative number of seconds"}
	case customVocabCount < 0:
		return Estimate{}, &ConfigurationError{Field: "custom_vocab_count", Reason: "must not be negative"}
	case model.WordsPerSecond <= 0:
		return Estimate{}, &ConfigurationError{Field: "model", Reason: "words per second must be positive for model " + model.Name}
	case e.ConfidenceLevel <= 0 || e.ConfidenceLevel >= 1:
		return Estimate{}, &ConfigurationError{Field: "confidence_level", Reason: "must be between 0 and 1"}
	}

	meanWords := durationSeconds * e.SpeechRateMu
	stdWords := durationSeconds * e.SpeechRateSigma

	z := e.zScore()
	lowWords := math.Max(0, meanWords-z*stdWords)
	highWords := meanWords + z*stdWords

	speed := model.WordsPerSecond / (1 + e.PenaltyPerWord*float64(customVocabCount))

	return Estimate{
		MeanSeconds:  meanWords / speed,
		LowSeconds:   lowWords / speed,
		HighSeconds:  highWords / speed,
		SetupSeconds: math.Max(0, model.SetupSeconds),
	}, nil
}

// zScore is the two-tailed critical value for the confidence level
func (e Estimator) zScore() float64 {
	return distuv.UnitNormal.Quantile((1 + e.ConfidenceLevel) / 2)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
