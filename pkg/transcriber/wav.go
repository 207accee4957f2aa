package transcriber

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV stores audio as a 16-bit mono PCM WAV file
func WriteWAV(path string, a Audio) error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", a.SampleRate)
	}

	// #nosec G304 - path is a temp file created by the engine
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, a.SampleRate, 16, 1, 1)

	data := make([]int, len(a.Samples))
	for i, s := range a.Samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: a.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}
