package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/logging"
)

// FasterWhisperTranscriber drives faster-whisper through a generated Python
// script. The script reports the decoded share of the audio as a 0-1
// fraction, one JSON object per stderr line.
type FasterWhisperTranscriber struct {
	modelName   string
	device      string // "auto", "cpu", "cuda"
	computeType string // "float16", "int8_float16", "int8"
	pythonPath  string
	tempDir     string
	runner      commandRunner
	logger      *logrus.Entry
}

// FasterWhisperConfig holds engine settings
type FasterWhisperConfig struct {
	Model       string
	Device      string
	ComputeType string
	// Python executable; python3, then python, when empty
	Python  string
	TempDir string
}

type fasterWhisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Error    string `json:"error"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

type fasterWhisperProgress struct {
	Progress *float64 `json:"progress"`
}

// NewFasterWhisperTranscriber creates a faster-whisper based transcriber
func NewFasterWhisperTranscriber(cfg FasterWhisperConfig, logger *logrus.Entry) (*FasterWhisperTranscriber, error) {
	pythonPath, err := findPython(cfg.Python)
	if err != nil {
		return nil, err
	}

	// #nosec G204 - interpreter path comes from configuration
	cmd := exec.Command(pythonPath, "-c", "import faster_whisper")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: faster-whisper not installed. Install with: pip install faster-whisper", ErrEngineUnavailable)
	}

	ft := newFasterWhisper(cfg, pythonPath, execRunner{}, logger)
	ft.logger.WithFields(logrus.Fields{
		"python":       pythonPath,
		"model":        ft.modelName,
		"device":       ft.device,
		"compute_type": ft.computeType,
	}).Info("FasterWhisper transcriber initialized successfully")

	return ft, nil
}

func newFasterWhisper(cfg FasterWhisperConfig, pythonPath string, runner commandRunner, logger *logrus.Entry) *FasterWhisperTranscriber {
	ft := &FasterWhisperTranscriber{
		modelName:   cfg.Model,
		device:      cfg.Device,
		computeType: cfg.ComputeType,
		pythonPath:  pythonPath,
		tempDir:     cfg.TempDir,
		runner:      runner,
		logger:      logging.OrNop(logger).WithField("engine", "faster-whisper"),
	}
	if ft.modelName == "" {
		ft.modelName = "base"
	}
	if ft.device == "" {
		ft.device = "auto"
	}
	if ft.computeType == "" {
		ft.computeType = "default"
	}
	return ft
}

func findPython(configured string) (string, error) {
	candidates := []string{"python3", "python"}
	if configured != "" {
		candidates = []string{configured}
	}

	var lastErr error
	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: python executable not found in PATH: %v", ErrEngineUnavailable, lastErr)
}

// Name identifies the engine in logs
func (ft *FasterWhisperTranscriber) Name() string { return "faster-whisper" }

// Transcribe runs the script without progress reporting
func (ft *FasterWhisperTranscriber) Transcribe(ctx context.Context, audio Audio, opts Options) (*Result, error) {
	return ft.TranscribeWithFraction(ctx, audio, opts, nil)
}

// TranscribeWithFraction runs the script and forwards 0-1 progress updates
func (ft *FasterWhisperTranscriber) TranscribeWithFraction(ctx context.Context, audio Audio, opts Options, onFraction func(fraction float64)) (*Result, error) {
	workDir, err := os.MkdirTemp(ft.tempDir, "transcriptor-fw-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			ft.logger.WithError(err).Warn("Failed to remove faster-whisper workspace")
		}
	}()

	wavPath := filepath.Join(workDir, "audio.wav")
	if err := WriteWAV(wavPath, audio); err != nil {
		return nil, err
	}

	ft.logger.WithFields(logrus.Fields{
		"audio_seconds": audio.Seconds(),
		"model":         ft.modelName,
		"has_prompt":    opts.InitialPrompt != "",
	}).Debug("FasterWhisperTranscriber: Starting transcription")

	script := ft.generatePythonScript(opts)
	stdout, err := ft.runner.Run(ctx, ft.pythonPath, []string{"-c", script, wavPath}, func(line string) {
		if onFraction == nil {
			return
		}
		if fraction, ok := parseFractionLine(line); ok {
			onFraction(fraction)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("faster-whisper transcription failed: %w", err)
	}

	return parseFasterWhisperOutput(stdout)
}

func parseFractionLine(line string) (float64, bool) {
	if !strings.HasPrefix(line, "{") {
		return 0, false
	}
	var p fasterWhisperProgress
	if err := json.Unmarshal([]byte(line), &p); err != nil || p.Progress == nil {
		return 0, false
	}
	return *p.Progress, true
}

func parseFasterWhisperOutput(stdout []byte) (*Result, error) {
	// The final JSON document is the last non-empty stdout line
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 {
		return &Result{}, nil
	}

	var response fasterWhisperResponse
	if err := json.Unmarshal(last, &response); err != nil {
		// Older scripts printed plain text
		return &Result{Text: string(last)}, nil
	}
	if response.Error != "" {
		return nil, fmt.Errorf("faster-whisper: %s", response.Error)
	}

	result := &Result{
		Text:     strings.TrimSpace(response.Text),
		Language: response.Language,
	}
	for _, seg := range response.Segments {
		result.Segments = append(result.Segments, Segment{
			Start: secondsToDuration(seg.Start),
			End:   secondsToDuration(seg.End),
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	return result, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// generatePythonScript creates the Python script for transcription. The WAV
// path arrives as argv[1].
func (ft *FasterWhisperTranscriber) generatePythonScript(opts Options) string {
	language := "None"
	if lang := normalizeLanguage(opts.Language); lang != "" {
		language = pythonString(lang)
	}
	beamSize := opts.BeamSize
	if beamSize <= 0 {
		beamSize = 5
	}
	bestOf := opts.BestOf
	if bestOf <= 0 {
		bestOf = 5
	}
	condition := "True"
	if opts.NoContext {
		condition = "False"
	}

	return fmt.Sprintf(`
import sys
import json
import warnings
from faster_whisper import WhisperModel

warnings.filterwarnings("ignore")

try:
    model = WhisperModel(%s, device=%s, compute_type=%s)
    segments, info = model.transcribe(
        sys.argv[1],
        language=%s,
        beam_size=%d,
        best_of=%d,
        temperature=%s,
        initial_prompt=%s,
        condition_on_previous_text=%s,
    )

    total = info.duration or 0.0
    texts = []
    out = []
    for segment in segments:
        texts.append(segment.text)
        out.append({"start": segment.start, "end": segment.end, "text": segment.text})
        if total > 0:
            sys.stderr.write(json.dumps({"progress": min(segment.end / total, 1.0)}) + "\n")
            sys.stderr.flush()

    sys.stderr.write(json.dumps({"progress": 1.0}) + "\n")
    print(json.dumps({"text": "".join(texts).strip(), "language": info.language, "segments": out}))

except Exception as e:
    print(json.dumps({"text": "", "error": str(e)}))
    sys.exit(1)
`,
		pythonString(ft.modelName),
		pythonString(ft.device),
		pythonString(ft.computeType),
		language,
		beamSize,
		bestOf,
		strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		pythonOptionalString(opts.InitialPrompt),
		condition,
	)
}

func (ft *FasterWhisperTranscriber) Close() error {
	return nil
}

// pythonString renders s as a Python string literal. JSON string syntax is
// a valid subset of Python's.
func pythonString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}

func pythonOptionalString(s string) string {
	if s == "" {
		return "None"
	}
	return pythonString(s)
}
