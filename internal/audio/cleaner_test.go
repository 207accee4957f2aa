package audio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

// quietThenSpeech returns half a second of low hiss followed by a tone
func quietThenSpeech() transcriber.Audio {
	samples := make([]int16, 16000)
	for i := 0; i < 8000; i++ {
		if i%2 == 0 {
			samples[i] = 50
		} else {
			samples[i] = -50
		}
	}
	copy(samples[8000:], sineFrame(8000, 10000, 40))
	return transcriber.Audio{Samples: samples, SampleRate: 16000}
}

func abs16(v int16) int {
	if v < 0 {
		return -int(v)
	}
	return int(v)
}

func TestCleanerAttenuatesBackground(t *testing.T) {
	in := quietThenSpeech()
	original := append([]int16(nil), in.Samples...)

	out, err := NewCleaner(CleanerConfig{}, nil).CleanAudio(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, in.SampleRate, out.SampleRate)
	require.Len(t, out.Samples, len(in.Samples))
	assert.Equal(t, original, in.Samples, "Input must not be modified")

	// Frames entirely inside the hiss region are gated
	for i := 0; i < 7680; i++ {
		assert.LessOrEqual(t, abs16(out.Samples[i]), 6, "sample %d should be attenuated", i)
	}

	// The tone survives, shifted only by the removed DC offset
	for i := 8000; i < len(out.Samples); i += 97 {
		assert.InDelta(t, float64(in.Samples[i]), float64(out.Samples[i]), 3, "sample %d should be kept", i)
	}
}

func TestCleanerRemovesDCOffset(t *testing.T) {
	samples := sineFrame(16000, 8000, 40)
	for i := range samples {
		samples[i] += 1000
	}

	c := NewCleaner(CleanerConfig{}, nil)
	out, stats, err := c.clean(context.Background(), transcriber.Audio{Samples: samples, SampleRate: 16000})
	require.NoError(t, err)

	assert.InDelta(t, 1000, stats.DCOffset, 5)
	assert.Equal(t, stats.Frames, stats.VoiceFrames, "A continuous tone is all voice")

	var sum float64
	for _, s := range out.Samples {
		sum += float64(s)
	}
	assert.InDelta(t, 0, sum/float64(len(out.Samples)), 2)
}

func TestCleanerDefaults(t *testing.T) {
	c := NewCleaner(CleanerConfig{Attenuation: 3}, nil)

	assert.Equal(t, 0.1, c.cfg.Attenuation)
	assert.Equal(t, int64(30), c.cfg.FrameDuration.Milliseconds())
}

func TestCleanerRejectsEmptyAudio(t *testing.T) {
	_, err := NewCleaner(CleanerConfig{}, nil).CleanAudio(context.Background(), transcriber.Audio{SampleRate: 16000})
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = NewCleaner(CleanerConfig{}, nil).CleanAudio(context.Background(), transcriber.Audio{Samples: []int16{1}})
	assert.Error(t, err)
}

func TestCleanerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCleaner(CleanerConfig{}, nil).CleanAudio(ctx, quietThenSpeech())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNopCleaner(t *testing.T) {
	in := quietThenSpeech()

	out, err := NopCleaner{}.CleanAudio(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = NopCleaner{}.CleanAudio(context.Background(), transcriber.Audio{})
	assert.ErrorIs(t, err, ErrEmptyAudio)
}
