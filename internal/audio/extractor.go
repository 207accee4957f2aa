package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

// DefaultSampleRate is what whisper models expect
const DefaultSampleRate = 16000

// commandRunner abstracts process execution for testability
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

// execRunner executes commands via os/exec
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	// #nosec G204 - ffmpeg path comes from configuration
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// ExtractorConfig holds ffmpeg settings
type ExtractorConfig struct {
	FFmpegPath string
	SampleRate int
	TempDir    string
}

// Extractor pulls a mono PCM track out of a media file with ffmpeg
type Extractor struct {
	ffmpegPath string
	sampleRate int
	tempDir    string
	runner     commandRunner
	logger     *logrus.Entry
}

// NewExtractor creates an extractor. A nil logger discards diagnostics.
func NewExtractor(cfg ExtractorConfig, logger *logrus.Entry) *Extractor {
	return newExtractor(cfg, execRunner{}, logger)
}

func newExtractor(cfg ExtractorConfig, runner commandRunner, logger *logrus.Entry) *Extractor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Extractor{
		ffmpegPath: cfg.FFmpegPath,
		sampleRate: cfg.SampleRate,
		tempDir:    cfg.TempDir,
		runner:     runner,
		logger:     logging.OrNop(logger).WithField("component", "extractor"),
	}
}

// ExtractAudio converts the audio track of videoPath to mono 16-bit PCM
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath string) (transcriber.Audio, error) {
	info, err := os.Stat(videoPath)
	if err != nil {
		return transcriber.Audio{}, fmt.Errorf("input file not accessible: %w", err)
	}
	if info.IsDir() {
		return transcriber.Audio{}, fmt.Errorf("input path is a directory: %s", videoPath)
	}

	workDir, err := os.MkdirTemp(e.tempDir, "transcriptor-extract-*")
	if err != nil {
		return transcriber.Audio{}, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			e.logger.WithError(err).Warn("Failed to remove extraction workspace")
		}
	}()

	outPath := filepath.Join(workDir, "audio.wav")
	args := buildFFmpegArgs(videoPath, outPath, e.sampleRate)

	e.logger.WithField("input", videoPath).Debug("Extracting audio with ffmpeg")
	if stderr, err := e.runner.Run(ctx, e.ffmpegPath, args...); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return transcriber.Audio{}, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		return transcriber.Audio{}, fmt.Errorf("ffmpeg audio conversion failed: %w (stderr: %s)", err, tail(stderr, 512))
	}

	audio, err := ReadWAV(outPath)
	if err != nil {
		return transcriber.Audio{}, err
	}

	e.logger.WithFields(logrus.Fields{
		"input":         videoPath,
		"audio_seconds": audio.Seconds(),
		"sample_rate":   audio.SampleRate,
	}).Info("Audio extracted")
	return audio, nil
}

func buildFFmpegArgs(inputPath, outPath string, sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// ReadWAV decodes a PCM WAV file, averaging channels down to mono
func ReadWAV(path string) (transcriber.Audio, error) {
	// #nosec G304 - path is produced by the extractor
	f, err := os.Open(path)
	if err != nil {
		return transcriber.Audio{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return transcriber.Audio{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return transcriber.Audio{}, fmt.Errorf("invalid wav file: %s", path)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	shift := 0
	if depth := int(dec.BitDepth); depth > 16 {
		shift = depth - 16
	}

	samples := make([]int16, len(buf.Data)/channels)
	for i := range samples {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += buf.Data[i*channels+ch] >> shift
		}
		samples[i] = int16(sum / channels)
	}

	return transcriber.Audio{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
