package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

type fakeRunner struct {
	name   string
	args   []string
	audio  *transcriber.Audio
	stderr string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.name = name
	f.args = args
	if f.err != nil {
		return f.stderr, f.err
	}
	if f.audio != nil {
		if err := transcriber.WriteWAV(args[len(args)-1], *f.audio); err != nil {
			return "", err
		}
	}
	return f.stderr, nil
}

func touch(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lecture.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o600))
	return path
}

func TestExtractAudio(t *testing.T) {
	video := touch(t)
	runner := &fakeRunner{audio: &transcriber.Audio{Samples: []int16{1, -2, 3, -4}, SampleRate: 16000}}
	tempDir := t.TempDir()

	e := newExtractor(ExtractorConfig{FFmpegPath: "/opt/ffmpeg", TempDir: tempDir}, runner, nil)
	got, err := e.ExtractAudio(context.Background(), video)
	require.NoError(t, err)

	assert.Equal(t, []int16{1, -2, 3, -4}, got.Samples)
	assert.Equal(t, 16000, got.SampleRate)
	assert.Equal(t, "/opt/ffmpeg", runner.name)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "Extraction workspace should be removed")
}

func TestBuildFFmpegArgs(t *testing.T) {
	args := buildFFmpegArgs("in.mkv", "out.wav", 16000)

	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", "in.mkv",
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		"out.wav",
	}, args)
}

func TestExtractAudioMissingInput(t *testing.T) {
	runner := &fakeRunner{}
	e := newExtractor(ExtractorConfig{}, runner, nil)

	_, err := e.ExtractAudio(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, runner.name, "ffmpeg should not run for a missing input")
}

func TestExtractAudioDirectoryInput(t *testing.T) {
	e := newExtractor(ExtractorConfig{}, &fakeRunner{}, nil)

	_, err := e.ExtractAudio(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "directory")
}

func TestExtractAudioFFmpegFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1"), stderr: "Invalid data found when processing input"}
	e := newExtractor(ExtractorConfig{TempDir: t.TempDir()}, runner, nil)

	_, err := e.ExtractAudio(context.Background(), touch(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg audio conversion failed")
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.Equal(t, "ffmpeg", runner.name)
}

func TestReadWAVDownmixesStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, 8000, 16, 2, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: 8000},
		Data:           []int{100, 300, -200, -400, 0, 10},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	got, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, got.SampleRate)
	assert.Equal(t, []int16{200, -300, 5}, got.Samples)
}

func TestReadWAVInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err := ReadWAV(path)
	assert.Error(t, err)
}
