package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snoozleEmily/transcriptor/internal/audio"
	"github.com/snoozleEmily/transcriptor/internal/feedback"
	"github.com/snoozleEmily/transcriptor/internal/output"
	"github.com/snoozleEmily/transcriptor/internal/pipeline"
	"github.com/snoozleEmily/transcriptor/internal/progress"
	"github.com/snoozleEmily/transcriptor/internal/revise"
	"github.com/snoozleEmily/transcriptor/internal/session"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

type toneExtractor struct{}

func (toneExtractor) ExtractAudio(ctx context.Context, path string) (transcriber.Audio, error) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16((i % 40) * 200)
	}
	return transcriber.Audio{Samples: samples, SampleRate: 16000}, nil
}

type testServer struct {
	*Server
	outDir   string
	sessions *session.Manager
}

func newTestServer(t *testing.T, engine transcriber.Transcriber) *testServer {
	t.Helper()
	outDir := t.TempDir()
	sessions := session.NewManager(nil)

	runner, err := pipeline.NewRunner(pipeline.Config{
		Model:     "base",
		OutputDir: outDir,
		Progress: progress.Config{
			Interval:          5 * time.Millisecond,
			SafetyBuffer:      20 * time.Millisecond,
			MinimalBuffer:     10 * time.Millisecond,
			HeartbeatInterval: time.Hour,
			GracePeriod:       200 * time.Millisecond,
		},
	}, pipeline.Dependencies{
		Extractor: toneExtractor{},
		Cleaner:   audio.NewCleaner(audio.CleanerConfig{}, nil),
		Engine:    engine,
		Reviser:   revise.New(nil),
		Saver:     output.NewWriter("", nil),
		Recorder:  sessions,
	}, nil)
	require.NoError(t, err)

	events := feedback.NewChannel(0, nil)
	t.Cleanup(events.Close)

	return &testServer{
		Server:   NewServer(runner, events, sessions, filepath.Join(outDir, "exports"), nil),
		outDir:   outDir,
		sessions: sessions,
	}
}

func resultText(t *testing.T, result *mcp.CallToolResultFor[any]) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer(t *testing.T) {
	server := newTestServer(t, &transcriber.MockTranscriber{})

	require.NotNil(t, server.mcpServer, "MCP server should be initialized with tools")
	assert.Equal(t, "base", server.runner.Profile().Name)
}

func TestHandleStartTranscriptionValidation(t *testing.T) {
	server := newTestServer(t, &transcriber.MockTranscriber{})
	ctx := context.Background()
	sess := &mcp.ServerSession{}

	result, err := server.handleStartTranscription(ctx, sess, &mcp.CallToolParamsFor[StartTranscriptionInput]{
		Arguments: StartTranscriptionInput{VideoPath: "  "},
	})
	assert.Error(t, err)
	assert.Nil(t, result)

	result, err = server.handleStartTranscription(ctx, sess, &mcp.CallToolParamsFor[StartTranscriptionInput]{
		Arguments: StartTranscriptionInput{VideoPath: "/v.mp4", OutputKind: "docx"},
	})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.False(t, server.runner.Running())
}

func TestTranscriptionThroughTools(t *testing.T) {
	server := newTestServer(t, &transcriber.MockTranscriber{})
	ctx := context.Background()
	sess := &mcp.ServerSession{}

	result, err := server.handleStartTranscription(ctx, sess, &mcp.CallToolParamsFor[StartTranscriptionInput]{
		Arguments: StartTranscriptionInput{
			VideoPath:  filepath.Join(server.outDir, "lecture.mp4"),
			Vocabulary: map[string][]string{"testing": {"Mock"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "started")

	server.runner.Wait()

	result, err = server.handleGetProgress(ctx, sess, &mcp.CallToolParamsFor[EmptyInput]{})
	require.NoError(t, err)

	var report progressReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &report))
	require.NotEmpty(t, report.Events)
	last := report.Events[len(report.Events)-1]
	assert.Equal(t, feedback.KindCompleted, last.Kind)
	assert.Equal(t, filepath.Join(server.outDir, "lecture.txt"), last.OutputPath)
	assert.False(t, report.Running)

	data, err := os.ReadFile(last.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Mock transcript")

	// Drained events are gone
	result, err = server.handleGetProgress(ctx, sess, &mcp.CallToolParamsFor[EmptyInput]{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &report))
	assert.Empty(t, report.Events)

	result, err = server.handleListRuns(ctx, sess, &mcp.CallToolParamsFor[EmptyInput]{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "[completed]")

	runs := server.sessions.ListRuns()
	require.Len(t, runs, 1)
	result, err = server.handleExportRun(ctx, sess, &mcp.CallToolParamsFor[ExportRunInput]{
		Arguments: ExportRunInput{RunID: runs[0].ID},
	})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Run exported to")
}

func TestHandleStartTranscriptionWhileRunning(t *testing.T) {
	engine := &transcriber.MockTranscriber{Delay: time.Hour}
	server := newTestServer(t, engine)
	ctx, cancel := context.WithCancel(context.Background())
	server.runCtx = ctx
	sess := &mcp.ServerSession{}

	params := &mcp.CallToolParamsFor[StartTranscriptionInput]{
		Arguments: StartTranscriptionInput{VideoPath: filepath.Join(server.outDir, "a.mp4")},
	}
	_, err := server.handleStartTranscription(ctx, sess, params)
	require.NoError(t, err)

	result, err := server.handleStartTranscription(ctx, sess, params)
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "already running")

	result, err = server.handleGetStatus(ctx, sess, &mcp.CallToolParamsFor[EmptyInput]{})
	require.NoError(t, err)
	var status statusReport
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &status))
	assert.True(t, status.Run.Running)
	assert.Equal(t, int64(1), status.Pipeline.RunsRejected)
	assert.Equal(t, "none", status.Capability)

	cancel()
	server.runner.Wait()
}

func TestHandleListRunsEmpty(t *testing.T) {
	server := newTestServer(t, &transcriber.MockTranscriber{})

	result, err := server.handleListRuns(context.Background(), &mcp.ServerSession{}, &mcp.CallToolParamsFor[EmptyInput]{})
	require.NoError(t, err)
	assert.Equal(t, "No transcription runs recorded", resultText(t, result))
}

func TestHandleExportRunNonExistent(t *testing.T) {
	server := newTestServer(t, &transcriber.MockTranscriber{})

	result, err := server.handleExportRun(context.Background(), &mcp.ServerSession{}, &mcp.CallToolParamsFor[ExportRunInput]{
		Arguments: ExportRunInput{RunID: "non-existent-run"},
	})

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to export run")
}
