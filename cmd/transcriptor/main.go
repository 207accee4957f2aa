package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/snoozleEmily/transcriptor/internal/audio"
	"github.com/snoozleEmily/transcriptor/internal/config"
	"github.com/snoozleEmily/transcriptor/internal/feedback"
	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/internal/mcp"
	"github.com/snoozleEmily/transcriptor/internal/output"
	"github.com/snoozleEmily/transcriptor/internal/pipeline"
	"github.com/snoozleEmily/transcriptor/internal/progress"
	"github.com/snoozleEmily/transcriptor/internal/revise"
	"github.com/snoozleEmily/transcriptor/internal/session"
	"github.com/snoozleEmily/transcriptor/internal/telemetry"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

var (
	ConfigPath   string
	VideoPath    string
	OutputPath   string
	OutputKind   string
	Model        string
	Engine       string
	VocabPath    string
	MCPMode      bool
	Technical    bool
	Multilingual bool
	HasCode      bool
	OddNames     bool
)

func init() {
	flag.StringVar(&ConfigPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&VideoPath, "video", "", "Video or audio file to transcribe")
	flag.StringVar(&OutputPath, "output", "", "Output file (defaults to the video name next to it)")
	flag.StringVar(&OutputKind, "kind", "", "Output format: text or pdf")
	flag.StringVar(&Model, "model", "", "Model size: tiny, base, small, medium or large")
	flag.StringVar(&Engine, "engine", "", "Engine: mock, whisper-cpp or faster-whisper")
	flag.StringVar(&VocabPath, "vocab", "", "YAML file describing the content and its vocabulary")
	flag.BoolVar(&MCPMode, "mcp", false, "Serve MCP tools over stdio instead of running once")
	flag.BoolVar(&Technical, "technical", false, "Content is technical")
	flag.BoolVar(&Multilingual, "multilingual", false, "Speech mixes languages")
	flag.BoolVar(&HasCode, "code", false, "Speech mentions source code")
	flag.BoolVar(&OddNames, "odd-names", false, "Speech contains unusual names")
}

func main() {
	flag.Parse()

	// Load from environment
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}

	cfg, err := loadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logging.Configure(cfg.LogLevel)
	logger := logrus.NewEntry(logrus.StandardLogger())

	// Set up signal handling with context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	code := run(ctx, cfg, logger)
	cancel()
	os.Exit(code)
}

// loadConfig layers flags over the file and environment settings
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(ConfigPath)
	if err != nil {
		return cfg, err
	}
	if Model != "" {
		cfg.Transcription.Model = Model
	}
	if Engine != "" {
		cfg.Engine.Type = Engine
	}
	if OutputKind != "" {
		cfg.Output.Kind = OutputKind
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Entry) int {
	tel, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize telemetry")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Telemetry shutdown failed")
		}
	}()

	sessions, closeHistory, err := openHistory(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open run history")
		return 1
	}
	defer closeHistory()

	engine, err := newEngine(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize transcription engine")
		return 1
	}

	var cleaner pipeline.AudioCleaner = audio.NopCleaner{}
	if cfg.Audio.Clean {
		cleaner = audio.NewCleaner(audio.CleanerConfig{
			FrameDuration: time.Duration(cfg.Audio.FrameMS) * time.Millisecond,
			Attenuation:   cfg.Audio.Attenuation,
		}, logger)
	}

	reviser := revise.New(logger)
	deps := pipeline.Dependencies{
		Extractor: audio.NewExtractor(audio.ExtractorConfig{
			FFmpegPath: cfg.Audio.FFmpegPath,
			SampleRate: cfg.Audio.SampleRate,
			TempDir:    cfg.TempDir,
		}, logger),
		Cleaner:  cleaner,
		Engine:   engine,
		Reviser:  reviser,
		Saver:    output.NewWriter(cfg.Output.Title, logger),
		Recorder: sessions,
	}
	if cfg.Output.Notes {
		deps.Annotator = reviser
	}

	runner, err := pipeline.NewRunner(cfg.Runner(), deps, logger)
	if err != nil {
		_ = engine.Close()
		logger.WithError(err).Error("Failed to create pipeline")
		return 1
	}
	defer func() {
		runner.Wait()
		if err := runner.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close transcriber")
		}
	}()

	events := feedback.NewChannel(cfg.Feedback.MaxEvents, logger)
	defer events.Close()

	logger.WithFields(logrus.Fields{
		"engine":     cfg.Engine.Type,
		"model":      runner.Profile().Name,
		"capability": runner.Capability().String(),
	}).Info("Pipeline ready")

	if MCPMode {
		server := mcp.NewServer(runner, events, sessions, cfg.History.ExportDir, logger)
		if err := server.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("MCP server error")
			return 1
		}
		logger.Info("Shutting down gracefully...")
		return 0
	}

	return runOnce(ctx, cfg, runner, events, sessions)
}

func runOnce(ctx context.Context, cfg config.Config, runner *pipeline.Runner, events *feedback.Channel, sessions *session.Manager) int {
	if VideoPath == "" {
		fmt.Fprintln(os.Stderr, "A video is required. Use -video or -mcp.")
		flag.Usage()
		return 2
	}

	content, err := loadContent()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	req := pipeline.Request{
		VideoPath:   VideoPath,
		Content:     content,
		OutputKind:  cfg.OutputKind(),
		Destination: OutputPath,
	}
	if !runner.Start(ctx, req, events.Emitter()) {
		fmt.Fprintln(os.Stderr, "A transcription is already running")
		return 1
	}

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()

	var final feedback.Event
	events.Poll(pollCtx, cfg.PollInterval(), func(event feedback.Event) {
		printEvent(event)
		if event.IsTerminal() {
			final = event
			stopPolling()
		}
	})

	runner.Wait()
	// Events posted between the last poll and the worker exit
	for _, event := range events.Drain() {
		printEvent(event)
		if event.IsTerminal() {
			final = event
		}
	}

	if final.Kind != feedback.KindCompleted {
		return 1
	}
	if run, err := sessions.GetRun(final.RunID); err == nil && run.Timing != nil {
		fmt.Printf("Transcribed %.1fs of audio in %.1fs (%.2fx realtime)\n",
			run.Timing.AudioDuration.Seconds(), run.Timing.ProcessingTime.Seconds(), run.Timing.SpeedFactor)
	}
	return 0
}

func printEvent(event feedback.Event) {
	switch event.Kind {
	case feedback.KindStage:
		fmt.Printf("==> %s\n", event.Message)
	case feedback.KindProgress:
		if event.Stage == progress.StageStalled || event.Stage == progress.StageSetup {
			fmt.Printf("      %s\n", event.Message)
			return
		}
		fmt.Printf("[%3d%%] %s\n", event.Percent, event.Message)
	case feedback.KindCompleted:
		fmt.Printf("Saved transcript to %s\n", event.OutputPath)
	case feedback.KindFailed:
		fmt.Fprintf(os.Stderr, "Transcription failed: %s\n", event.Message)
	}
}

// loadContent reads the -vocab file and applies the content flags
func loadContent() (pipeline.ContentConfig, error) {
	var content pipeline.ContentConfig
	if VocabPath != "" {
		data, err := os.ReadFile(VocabPath)
		if err != nil {
			return content, fmt.Errorf("failed to read vocabulary file: %w", err)
		}
		if err := yaml.Unmarshal(data, &content); err != nil {
			return content, fmt.Errorf("failed to parse vocabulary file: %w", err)
		}
	}
	content.IsTechnical = content.IsTechnical || Technical
	content.IsMultilingual = content.IsMultilingual || Multilingual
	content.HasCode = content.HasCode || HasCode
	content.HasOddNames = content.HasOddNames || OddNames
	return content, nil
}

func newEngine(cfg config.Config, logger *logrus.Entry) (transcriber.Transcriber, error) {
	switch strings.ToLower(cfg.Engine.Type) {
	case config.EngineWhisperCpp:
		return transcriber.NewWhisperCppTranscriber(transcriber.WhisperCppConfig{
			ModelPath: cfg.Engine.ModelPath,
			Command:   cfg.Engine.Command,
			Threads:   cfg.Engine.Threads,
			TempDir:   cfg.TempDir,
		}, logger)
	case config.EngineFasterWhisper:
		return transcriber.NewFasterWhisperTranscriber(transcriber.FasterWhisperConfig{
			Model:       cfg.Transcription.Model,
			Device:      cfg.Engine.Device,
			ComputeType: cfg.Engine.ComputeType,
			Python:      cfg.Engine.Python,
			TempDir:     cfg.TempDir,
		}, logger)
	default:
		logger.Info("Using mock transcriber")
		return &transcriber.MockTranscriber{}, nil
	}
}

func openHistory(ctx context.Context, cfg config.Config, logger *logrus.Entry) (*session.Manager, func(), error) {
	if cfg.History.Path == "" {
		return session.NewManager(logger), func() {}, nil
	}

	store, err := session.OpenStore(ctx, cfg.History.Path, cfg.History.MaxRuns, logger)
	if err != nil {
		return nil, nil, err
	}
	manager, err := session.NewManagerWithStore(ctx, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return manager, func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close run history")
		}
	}, nil
}
