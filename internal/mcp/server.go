package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/feedback"
	"github.com/snoozleEmily/transcriptor/internal/logging"
	"github.com/snoozleEmily/transcriptor/internal/pipeline"
	"github.com/snoozleEmily/transcriptor/internal/session"
)

// Version is reported to MCP clients
var Version = "0.1.0"

// Server exposes the transcription pipeline as MCP tools
type Server struct {
	runner    *pipeline.Runner
	events    *feedback.Channel
	sessions  *session.Manager
	exportDir string
	mcpServer *mcp.Server
	logger    *logrus.Entry

	// runCtx scopes background runs; a tool call context ends with the call
	runCtx context.Context
}

// Tool input types
type StartTranscriptionInput struct {
	VideoPath      string              `json:"video_path" jsonschema:"path of the video or audio file to transcribe"`
	OutputKind     string              `json:"output_kind,omitempty" jsonschema:"text (default) or pdf"`
	Destination    string              `json:"destination,omitempty" jsonschema:"optional output file path"`
	Vocabulary     map[string][]string `json:"vocabulary,omitempty" jsonschema:"domain to expected terms"`
	IsTechnical    bool                `json:"is_technical,omitempty" jsonschema:"content is technical"`
	IsMultilingual bool                `json:"is_multilingual,omitempty" jsonschema:"speech mixes languages"`
	HasCode        bool                `json:"has_code,omitempty" jsonschema:"speech mentions source code"`
	HasOddNames    bool                `json:"has_odd_names,omitempty" jsonschema:"speech contains unusual names"`
}

type ExportRunInput struct {
	RunID string `json:"run_id" jsonschema:"ID of the run to export"`
}

type EmptyInput struct{}

// NewServer creates a new MCP server with all tools registered
func NewServer(runner *pipeline.Runner, events *feedback.Channel, sessions *session.Manager, exportDir string, logger *logrus.Entry) *Server {
	s := &Server{
		runner:    runner,
		events:    events,
		sessions:  sessions,
		exportDir: exportDir,
		logger:    logging.OrNop(logger).WithField("component", "mcp"),
		runCtx:    context.Background(),
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "transcriptor",
		Version: Version,
	}, nil)

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "start_transcription",
		Description: "Start transcribing a video. Ignored while another transcription is running.",
	}, s.handleStartTranscription)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_progress",
		Description: "Return and clear the progress events posted since the last call",
	}, s.handleGetProgress)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_status",
		Description: "Show the active run and pipeline statistics",
	}, s.handleGetStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_runs",
		Description: "List all recorded transcription runs",
	}, s.handleListRuns)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_run",
		Description: "Export a run record to a JSON file",
	}, s.handleExportRun)
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	s.runCtx = ctx
	s.logger.Info("MCP server started")
	return s.mcpServer.Run(ctx, mcp.NewStdioTransport())
}

func (s *Server) handleStartTranscription(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[StartTranscriptionInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	if strings.TrimSpace(in.VideoPath) == "" {
		return nil, fmt.Errorf("video_path is required")
	}

	kind, err := pipeline.ParseOutputKind(in.OutputKind)
	if err != nil {
		return nil, err
	}

	req := pipeline.Request{
		VideoPath:   in.VideoPath,
		OutputKind:  kind,
		Destination: in.Destination,
		Content: pipeline.ContentConfig{
			Words:          in.Vocabulary,
			IsTechnical:    in.IsTechnical,
			IsMultilingual: in.IsMultilingual,
			HasCode:        in.HasCode,
			HasOddNames:    in.HasOddNames,
		},
	}

	if !s.runner.Start(s.runCtx, req, s.events.Emitter()) {
		status := s.runner.Status()
		return textResult(fmt.Sprintf("A transcription is already running (run %s, %d%%). Request ignored.", status.RunID, status.Percent)), nil
	}

	s.logger.WithFields(logrus.Fields{
		"video": in.VideoPath,
		"kind":  kind.String(),
	}).Info("Transcription started via MCP")

	msg := fmt.Sprintf("Transcription started for %s. Poll get_progress for updates.", in.VideoPath)
	if id := s.runner.Status().RunID; id != "" {
		msg = fmt.Sprintf("Transcription %s started for %s. Poll get_progress for updates.", id, in.VideoPath)
	}
	return textResult(msg), nil
}

type progressReport struct {
	Events  []feedback.Event `json:"events"`
	Running bool             `json:"running"`
	Percent int              `json:"percent"`
}

func (s *Server) handleGetProgress(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	events := s.events.Drain()
	if events == nil {
		events = []feedback.Event{}
	}
	status := s.runner.Status()

	return jsonResult(progressReport{
		Events:  events,
		Running: status.Running,
		Percent: status.Percent,
	})
}

type statusReport struct {
	Run        pipeline.Status         `json:"run"`
	Model      string                  `json:"model"`
	Capability string                  `json:"capability"`
	Pipeline   pipeline.Metrics        `json:"pipeline"`
	Events     feedback.ChannelMetrics `json:"events"`
	Pending    int                     `json:"pending"`
}

func (s *Server) handleGetStatus(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	return jsonResult(statusReport{
		Run:        s.runner.Status(),
		Model:      s.runner.Profile().Name,
		Capability: s.runner.Capability().String(),
		Pipeline:   s.runner.Metrics(),
		Events:     s.events.Metrics(),
		Pending:    s.events.Len(),
	})
}

func (s *Server) handleListRuns(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	runs := s.sessions.ListRuns()
	if len(runs) == 0 {
		return textResult("No transcription runs recorded"), nil
	}

	var b strings.Builder
	b.WriteString("Transcription runs:\n")
	for _, run := range runs {
		fmt.Fprintf(&b, "- %s [%s] %s", run.ID, run.Status, run.VideoPath)
		if run.OutputPath != "" {
			fmt.Fprintf(&b, " -> %s", run.OutputPath)
		}
		if run.Timing != nil {
			fmt.Fprintf(&b, " (%.1fs audio in %.1fs, %.2fx)", run.Timing.AudioDuration.Seconds(), run.Timing.ProcessingTime.Seconds(), run.Timing.SpeedFactor)
		}
		if run.Error != "" {
			fmt.Fprintf(&b, " error: %s", run.Error)
		}
		b.WriteString("\n")
	}
	return textResult(b.String()), nil
}

func (s *Server) handleExportRun(ctx context.Context, ss *mcp.ServerSession, params *mcp.CallToolParamsFor[ExportRunInput]) (*mcp.CallToolResultFor[any], error) {
	path, err := s.sessions.ExportRun(params.Arguments.RunID, s.exportDir)
	if err != nil {
		return nil, fmt.Errorf("failed to export run: %w", err)
	}
	return textResult(fmt.Sprintf("Run exported to %s", path)), nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}
