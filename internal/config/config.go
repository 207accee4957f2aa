package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/snoozleEmily/transcriptor/internal/estimate"
	"github.com/snoozleEmily/transcriptor/internal/pipeline"
	"github.com/snoozleEmily/transcriptor/internal/progress"
)

// Engine types
const (
	EngineMock          = "mock"
	EngineWhisperCpp    = "whisper-cpp"
	EngineFasterWhisper = "faster-whisper"
)

type EngineConfig struct {
	Type string `yaml:"type"`
	// ModelPath is the ggml model file used by whisper.cpp
	ModelPath   string `yaml:"model_path"`
	Command     string `yaml:"command"`
	Python      string `yaml:"python"`
	Device      string `yaml:"device"`
	ComputeType string `yaml:"compute_type"`
	Threads     int    `yaml:"threads"`
}

type TranscriptionConfig struct {
	Model       string  `yaml:"model"`
	Language    string  `yaml:"language"`
	Temperature float64 `yaml:"temperature"`
	BeamSize    int     `yaml:"beam_size"`
	BestOf      int     `yaml:"best_of"`
}

type AudioConfig struct {
	FFmpegPath  string  `yaml:"ffmpeg_path"`
	SampleRate  int     `yaml:"sample_rate"`
	Clean       bool    `yaml:"clean"`
	Attenuation float64 `yaml:"attenuation"`
	FrameMS     int     `yaml:"frame_ms"`
}

type OutputConfig struct {
	Dir   string `yaml:"dir"`
	Kind  string `yaml:"kind"`
	Title string `yaml:"title"`

	// Notes appends summary, key terms, questions and highlights
	Notes bool `yaml:"notes"`
}

type ProgressConfig struct {
	IntervalMS      int `yaml:"interval_ms"`
	SafetyBufferMS  int `yaml:"safety_buffer_ms"`
	MinimalBufferMS int `yaml:"minimal_buffer_ms"`
	HeartbeatMS     int `yaml:"heartbeat_ms"`
	GracePeriodMS   int `yaml:"grace_period_ms"`
}

type FeedbackConfig struct {
	MaxEvents      int `yaml:"max_events"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

type HistoryConfig struct {
	// Path of the SQLite database; empty keeps history in memory
	Path      string `yaml:"path"`
	MaxRuns   int    `yaml:"max_runs"`
	ExportDir string `yaml:"export_dir"`
}

type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	PrometheusBind string `yaml:"prometheus_bind"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	// StdoutTraces pretty-prints spans when no OTLP endpoint is set
	StdoutTraces bool `yaml:"stdout_traces"`
}

type Config struct {
	LogLevel      string              `yaml:"log_level"`
	TempDir       string              `yaml:"temp_dir"`
	Engine        EngineConfig        `yaml:"engine"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Audio         AudioConfig         `yaml:"audio"`
	Output        OutputConfig        `yaml:"output"`
	Progress      ProgressConfig      `yaml:"progress"`
	Feedback      FeedbackConfig      `yaml:"feedback"`
	History       HistoryConfig       `yaml:"history"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

func Default() Config {
	defaults := progress.DefaultConfig()
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			Type:        EngineMock,
			Command:     "whisper-cli",
			Device:      "auto",
			ComputeType: "default",
		},
		Transcription: TranscriptionConfig{
			Model:    "base",
			BeamSize: 5,
			BestOf:   5,
		},
		Audio: AudioConfig{
			FFmpegPath:  "ffmpeg",
			SampleRate:  16000,
			Clean:       true,
			Attenuation: 0.1,
			FrameMS:     30,
		},
		Output: OutputConfig{
			Kind:  "text",
			Notes: true,
		},
		Progress: ProgressConfig{
			IntervalMS:      int(defaults.Interval.Milliseconds()),
			SafetyBufferMS:  int(defaults.SafetyBuffer.Milliseconds()),
			MinimalBufferMS: int(defaults.MinimalBuffer.Milliseconds()),
			HeartbeatMS:     int(defaults.HeartbeatInterval.Milliseconds()),
			GracePeriodMS:   int(defaults.GracePeriod.Milliseconds()),
		},
		Feedback: FeedbackConfig{
			MaxEvents:      1024,
			PollIntervalMS: 100,
		},
		History: HistoryConfig{
			MaxRuns:   1000,
			ExportDir: "exports",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "transcriptor",
			OTLPInsecure: true,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies TRANSCRIPTOR_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.LogLevel, "TRANSCRIPTOR_LOG_LEVEL")
	overrideString(&cfg.TempDir, "TRANSCRIPTOR_TEMP_DIR")
	overrideString(&cfg.Engine.Type, "TRANSCRIPTOR_ENGINE")
	overrideString(&cfg.Engine.ModelPath, "TRANSCRIPTOR_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Command, "TRANSCRIPTOR_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Python, "TRANSCRIPTOR_ENGINE_PYTHON")
	overrideString(&cfg.Engine.Device, "TRANSCRIPTOR_ENGINE_DEVICE")
	overrideString(&cfg.Engine.ComputeType, "TRANSCRIPTOR_ENGINE_COMPUTE_TYPE")
	overrideInt(&cfg.Engine.Threads, "TRANSCRIPTOR_ENGINE_THREADS")
	overrideString(&cfg.Transcription.Model, "TRANSCRIPTOR_MODEL")
	overrideString(&cfg.Transcription.Language, "TRANSCRIPTOR_LANGUAGE")
	overrideFloat(&cfg.Transcription.Temperature, "TRANSCRIPTOR_TEMPERATURE")
	overrideInt(&cfg.Transcription.BeamSize, "TRANSCRIPTOR_BEAM_SIZE")
	overrideInt(&cfg.Transcription.BestOf, "TRANSCRIPTOR_BEST_OF")
	overrideString(&cfg.Audio.FFmpegPath, "TRANSCRIPTOR_FFMPEG_PATH")
	overrideBool(&cfg.Audio.Clean, "TRANSCRIPTOR_AUDIO_CLEAN")
	overrideString(&cfg.Output.Dir, "TRANSCRIPTOR_OUTPUT_DIR")
	overrideString(&cfg.Output.Kind, "TRANSCRIPTOR_OUTPUT_KIND")
	overrideBool(&cfg.Output.Notes, "TRANSCRIPTOR_OUTPUT_NOTES")
	overrideInt(&cfg.Feedback.MaxEvents, "TRANSCRIPTOR_FEEDBACK_MAX_EVENTS")
	overrideString(&cfg.History.Path, "TRANSCRIPTOR_HISTORY_PATH")
	overrideInt(&cfg.History.MaxRuns, "TRANSCRIPTOR_HISTORY_MAX_RUNS")
	overrideString(&cfg.History.ExportDir, "TRANSCRIPTOR_EXPORT_DIR")
	overrideString(&cfg.Telemetry.PrometheusBind, "TRANSCRIPTOR_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TRANSCRIPTOR_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TRANSCRIPTOR_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "TRANSCRIPTOR_STDOUT_TRACES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

// Validate reports every invalid setting at once
func (c Config) Validate() error {
	var errs []error

	if _, err := estimate.LookupProfile(c.Transcription.Model); err != nil {
		errs = append(errs, err)
	}

	switch c.Engine.Type {
	case EngineMock, EngineFasterWhisper:
	case EngineWhisperCpp:
		if c.Engine.ModelPath == "" {
			errs = append(errs, errors.New("engine.model_path is required for whisper-cpp"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q (expected %s, %s or %s)", c.Engine.Type, EngineMock, EngineWhisperCpp, EngineFasterWhisper))
	}

	if _, err := pipeline.ParseOutputKind(c.Output.Kind); err != nil {
		errs = append(errs, err)
	}
	if c.Transcription.Temperature < 0 || c.Transcription.Temperature > 1 {
		errs = append(errs, fmt.Errorf("transcription.temperature must be within [0, 1], got %v", c.Transcription.Temperature))
	}
	if c.Audio.Attenuation < 0 || c.Audio.Attenuation > 1 {
		errs = append(errs, fmt.Errorf("audio.attenuation must be within [0, 1], got %v", c.Audio.Attenuation))
	}
	if c.Progress.IntervalMS <= 0 || c.Progress.HeartbeatMS <= 0 {
		errs = append(errs, errors.New("progress.interval_ms and progress.heartbeat_ms must be positive"))
	}
	if c.Progress.SafetyBufferMS < 0 || c.Progress.MinimalBufferMS < 0 || c.Progress.GracePeriodMS < 0 {
		errs = append(errs, errors.New("progress buffers must not be negative"))
	}
	if c.Feedback.MaxEvents <= 0 {
		errs = append(errs, errors.New("feedback.max_events must be positive"))
	}
	if c.Feedback.PollIntervalMS <= 0 {
		errs = append(errs, errors.New("feedback.poll_interval_ms must be positive"))
	}

	return errors.Join(errs...)
}

// ProgressTimers converts the millisecond settings for the progress tracker
func (c Config) ProgressTimers() progress.Config {
	return progress.Config{
		Interval:          ms(c.Progress.IntervalMS),
		SafetyBuffer:      ms(c.Progress.SafetyBufferMS),
		MinimalBuffer:     ms(c.Progress.MinimalBufferMS),
		HeartbeatInterval: ms(c.Progress.HeartbeatMS),
		GracePeriod:       ms(c.Progress.GracePeriodMS),
	}
}

// PollInterval is how often callers drain the event channel
func (c Config) PollInterval() time.Duration {
	return ms(c.Feedback.PollIntervalMS)
}

// OutputKind returns the parsed default output kind
func (c Config) OutputKind() pipeline.OutputKind {
	kind, _ := pipeline.ParseOutputKind(c.Output.Kind)
	return kind
}

// Runner builds the pipeline runner settings
func (c Config) Runner() pipeline.Config {
	return pipeline.Config{
		Model:       c.Transcription.Model,
		Temperature: c.Transcription.Temperature,
		Language:    c.Transcription.Language,
		BeamSize:    c.Transcription.BeamSize,
		BestOf:      c.Transcription.BestOf,
		OutputDir:   c.Output.Dir,
		Progress:    c.ProgressTimers(),
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
