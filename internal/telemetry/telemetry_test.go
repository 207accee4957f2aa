package telemetry

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/snoozleEmily/transcriptor/internal/config"
)

func TestSetupServesMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := setup(ctx, config.TelemetryConfig{ServiceName: "transcriptor-test"}, io.Discard, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	counter, err := otel.Meter("telemetry-test").Int64Counter("test.events")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "test_events_total")
	assert.Contains(t, body, "go_goroutines")
	assert.Empty(t, tel.Addr())
}

func TestSetupMetricsListener(t *testing.T) {
	ctx := context.Background()
	tel, err := setup(ctx, config.TelemetryConfig{PrometheusBind: "127.0.0.1:0"}, io.Discard, nil)
	require.NoError(t, err)

	require.NotEmpty(t, tel.Addr())
	resp, err := http.Get("http://" + tel.Addr() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, tel.Shutdown(ctx))
}

func TestSetupStdoutTraces(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	tel, err := setup(ctx, config.TelemetryConfig{StdoutTraces: true}, &out, nil)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(ctx, "extract-audio")
	span.End()

	require.NoError(t, tel.Shutdown(ctx))
	assert.Contains(t, out.String(), "extract-audio")
}

func TestSetupRejectsBadBind(t *testing.T) {
	_, err := setup(context.Background(), config.TelemetryConfig{PrometheusBind: "not-an-address"}, io.Discard, nil)
	assert.Error(t, err)
}

func TestShutdownTwice(t *testing.T) {
	ctx := context.Background()
	tel, err := setup(ctx, config.TelemetryConfig{}, io.Discard, nil)
	require.NoError(t, err)

	require.NoError(t, tel.Shutdown(ctx))
	assert.NoError(t, tel.Shutdown(ctx))
}
