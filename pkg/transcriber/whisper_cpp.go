package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
)

var whisperProgressPattern = regexp.MustCompile(`progress\s*=\s*(\d+(?:\.\d+)?)\s*%`)

// WhisperCppTranscriber runs the whisper.cpp CLI. With -pp the CLI prints
// "progress = NN%" lines on stderr, so it reports progress on a 0-100 scale.
type WhisperCppTranscriber struct {
	modelPath   string
	whisperPath string
	threads     int
	runner      commandRunner
	tempDir     string
	logger      *logrus.Entry
}

// WhisperCppConfig holds engine settings
type WhisperCppConfig struct {
	// ModelPath is the ggml model file
	ModelPath string
	// Command is the CLI executable; whisper-cli by default
	Command string
	// Threads for CPU decoding, 0 keeps the CLI default
	Threads int
	// TempDir receives the intermediate WAV and JSON files
	TempDir string
}

// NewWhisperCppTranscriber validates the model file and locates the executable
func NewWhisperCppTranscriber(cfg WhisperCppConfig, logger *logrus.Entry) (*WhisperCppTranscriber, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("whisper model file not found: %s", cfg.ModelPath)
		}
		return nil, fmt.Errorf("whisper model file not accessible: %w", err)
	}

	command := cfg.Command
	if command == "" {
		command = "whisper-cli"
	}
	whisperPath, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH: %v", ErrEngineUnavailable, command, err)
	}

	wt := newWhisperCpp(cfg, whisperPath, execRunner{}, logger)
	wt.logger.WithField("whisper", whisperPath).Info("whisper.cpp transcriber initialized")
	return wt, nil
}

func newWhisperCpp(cfg WhisperCppConfig, whisperPath string, runner commandRunner, logger *logrus.Entry) *WhisperCppTranscriber {
	return &WhisperCppTranscriber{
		modelPath:   cfg.ModelPath,
		whisperPath: whisperPath,
		threads:     cfg.Threads,
		runner:      runner,
		tempDir:     cfg.TempDir,
		logger:      logging.OrNop(logger).WithField("engine", "whisper.cpp"),
	}
}

// Name identifies the engine in logs
func (wt *WhisperCppTranscriber) Name() string { return "whisper.cpp" }

// Transcribe runs the CLI without progress reporting
func (wt *WhisperCppTranscriber) Transcribe(ctx context.Context, audio Audio, opts Options) (*Result, error) {
	return wt.TranscribeWithPercent(ctx, audio, opts, nil)
}

// TranscribeWithPercent runs the CLI and forwards its progress lines
func (wt *WhisperCppTranscriber) TranscribeWithPercent(ctx context.Context, audio Audio, opts Options, onPercent func(percent float64)) (*Result, error) {
	workDir, err := os.MkdirTemp(wt.tempDir, "transcriptor-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			wt.logger.WithError(err).Warn("Failed to remove whisper workspace")
		}
	}()

	wavPath := filepath.Join(workDir, "audio.wav")
	if err := WriteWAV(wavPath, audio); err != nil {
		return nil, err
	}

	outBase := filepath.Join(workDir, "transcript")
	args := wt.buildArgs(wavPath, outBase, opts)

	wt.logger.WithFields(logrus.Fields{
		"audio_seconds": audio.Seconds(),
		"has_prompt":    opts.InitialPrompt != "",
	}).Debug("Starting whisper.cpp transcription")

	_, err = wt.runner.Run(ctx, wt.whisperPath, args, func(line string) {
		if onPercent == nil {
			return
		}
		if percent, ok := parseWhisperProgress(line); ok {
			onPercent(percent)
		}
	})
	if err != nil {
		return nil, err
	}

	// #nosec G304 - file lives in our private workspace
	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp completed but transcript json is missing: %w", err)
	}
	return parseWhisperJSON(data)
}

func (wt *WhisperCppTranscriber) buildArgs(wavPath, outBase string, opts Options) []string {
	args := []string{
		"-m", wt.modelPath,
		"-f", wavPath,
		"-of", outBase,
		"-oj",
		"-pp",
	}

	if lang := normalizeLanguage(opts.Language); lang != "" {
		args = append(args, "-l", lang)
	} else {
		args = append(args, "-l", "auto")
	}
	if opts.Temperature > 0 {
		args = append(args, "-tp", strconv.FormatFloat(opts.Temperature, 'f', 2, 64))
	}
	if opts.InitialPrompt != "" {
		args = append(args, "--prompt", opts.InitialPrompt)
	}
	if opts.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(opts.BeamSize))
	}
	if opts.BestOf > 0 {
		args = append(args, "-bo", strconv.Itoa(opts.BestOf))
	}
	if opts.NoContext {
		args = append(args, "-mc", "0")
	}
	if wt.threads > 0 {
		args = append(args, "-t", strconv.Itoa(wt.threads))
	}
	return args
}

func (wt *WhisperCppTranscriber) Close() error {
	return nil
}

// parseWhisperProgress extracts the percent from a whisper.cpp progress line
func parseWhisperProgress(line string) (float64, bool) {
	m := whisperProgressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return percent, true
}

type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperJSON(data []byte) (*Result, error) {
	var doc whisperJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse whisper.cpp json: %w", err)
	}

	result := &Result{Language: doc.Result.Language}
	texts := make([]string, 0, len(doc.Transcription))
	for _, seg := range doc.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		result.Segments = append(result.Segments, Segment{
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
			Text:  text,
		})
	}
	result.Text = strings.Join(texts, " ")
	return result, nil
}

// normalizeLanguage maps "auto" and empty language to no override
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
