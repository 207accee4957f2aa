package audio

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

// ErrEmptyAudio is returned for audio without samples
var ErrEmptyAudio = errors.New("audio has no samples")

// CleanerConfig holds noise gate settings
type CleanerConfig struct {
	// FrameDuration is the analysis window; 30ms by default
	FrameDuration time.Duration
	// Attenuation scales frames classified as background, 0.1 by default
	Attenuation float64
	VAD         VADConfig
}

// Cleaner removes DC offset and gates background noise between speech
type Cleaner struct {
	cfg    CleanerConfig
	logger *logrus.Entry
}

// CleanStats summarizes one cleaning pass
type CleanStats struct {
	Frames      int
	VoiceFrames int
	DCOffset    float64
	NoiseLevel  float64
}

// NewCleaner creates a cleaner. A nil logger discards diagnostics.
func NewCleaner(cfg CleanerConfig, logger *logrus.Entry) *Cleaner {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 30 * time.Millisecond
	}
	if cfg.Attenuation <= 0 || cfg.Attenuation > 1 {
		cfg.Attenuation = 0.1
	}
	return &Cleaner{
		cfg:    cfg,
		logger: logging.OrNop(logger).WithField("component", "cleaner"),
	}
}

// CleanAudio returns a cleaned copy of a; the input is not modified
func (c *Cleaner) CleanAudio(ctx context.Context, a transcriber.Audio) (transcriber.Audio, error) {
	out, stats, err := c.clean(ctx, a)
	if err != nil {
		return transcriber.Audio{}, err
	}

	c.logger.WithFields(logrus.Fields{
		"frames":       stats.Frames,
		"voice_frames": stats.VoiceFrames,
		"dc_offset":    stats.DCOffset,
		"noise_level":  stats.NoiseLevel,
	}).Debug("Audio cleaned")

	return out, nil
}

func (c *Cleaner) clean(ctx context.Context, a transcriber.Audio) (transcriber.Audio, CleanStats, error) {
	var stats CleanStats
	if len(a.Samples) == 0 {
		return transcriber.Audio{}, stats, ErrEmptyAudio
	}
	if a.SampleRate <= 0 {
		return transcriber.Audio{}, stats, errors.New("invalid sample rate")
	}

	var sum float64
	for _, s := range a.Samples {
		sum += float64(s)
	}
	stats.DCOffset = sum / float64(len(a.Samples))

	samples := make([]int16, len(a.Samples))
	for i, s := range a.Samples {
		samples[i] = clampInt16(float64(s) - stats.DCOffset)
	}

	frameLen := int(math.Round(float64(a.SampleRate) * c.cfg.FrameDuration.Seconds()))
	if frameLen < 1 {
		frameLen = 1
	}

	vad := NewVoiceActivityDetectorWithConfig(c.cfg.VAD, c.logger)
	for start := 0; start < len(samples); start += frameLen {
		if stats.Frames%256 == 0 {
			if err := ctx.Err(); err != nil {
				return transcriber.Audio{}, stats, err
			}
		}

		end := start + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		frame := samples[start:end]
		stats.Frames++

		// Keep voice onsets before the hysteresis confirms speech
		result := vad.Analyze(frame)
		if result.IsVoice || result.IsSpeaking {
			stats.VoiceFrames++
			continue
		}
		for i := range frame {
			frame[i] = clampInt16(float64(frame[i]) * c.cfg.Attenuation)
		}
	}
	stats.NoiseLevel = vad.NoiseLevel()

	return transcriber.Audio{Samples: samples, SampleRate: a.SampleRate}, stats, nil
}

func clampInt16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// NopCleaner passes audio through unchanged
type NopCleaner struct{}

func (NopCleaner) CleanAudio(ctx context.Context, a transcriber.Audio) (transcriber.Audio, error) {
	if len(a.Samples) == 0 {
		return transcriber.Audio{}, ErrEmptyAudio
	}
	if err := ctx.Err(); err != nil {
		return transcriber.Audio{}, err
	}
	return a, nil
}
