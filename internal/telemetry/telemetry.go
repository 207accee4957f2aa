package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/snoozleEmily/transcriptor/internal/config"
	"github.com/snoozleEmily/transcriptor/internal/logging"
)

// Telemetry owns the installed OpenTelemetry providers and the /metrics
// endpoint
type Telemetry struct {
	// Handler serves the Prometheus exposition of all recorded metrics
	Handler http.Handler

	listener  net.Listener
	server    *http.Server
	shutdowns []func(context.Context) error
	logger    *logrus.Entry
}

// Setup installs global tracer and meter providers. Traces go to the OTLP
// endpoint when one is configured, else to stderr when StdoutTraces is set;
// stdout stays free for the MCP transport. Metrics are served on
// PrometheusBind when it is set.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *logrus.Entry) (*Telemetry, error) {
	return setup(ctx, cfg, os.Stderr, logger)
}

func setup(ctx context.Context, cfg config.TelemetryConfig, traceOut io.Writer, logger *logrus.Entry) (*Telemetry, error) {
	t := &Telemetry{logger: logging.OrNop(logger).WithField("component", "telemetry")}

	name := cfg.ServiceName
	if name == "" {
		name = "transcriptor"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	if err := t.initTracer(ctx, cfg, res, traceOut); err != nil {
		return nil, err
	}
	if err := t.initMetrics(res); err != nil {
		_ = t.Shutdown(ctx)
		return nil, err
	}
	if bind := strings.TrimSpace(cfg.PrometheusBind); bind != "" {
		if err := t.serve(bind); err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
	}

	return t, nil
}

func (t *Telemetry) initTracer(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, traceOut io.Writer) error {
	var exporter sdktrace.SpanExporter
	var kind string

	switch endpoint := strings.TrimSpace(cfg.OTLPEndpoint); {
	case endpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("otlp trace exporter: %w", err)
		}
		exporter, kind = exp, "otlp"
	case cfg.StdoutTraces:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(traceOut))
		if err != nil {
			return fmt.Errorf("stdout trace exporter: %w", err)
		}
		exporter, kind = exp, "stdout"
	default:
		t.logger.Debug("Tracing disabled")
		return nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	t.shutdowns = append(t.shutdowns, tp.Shutdown)

	t.logger.WithField("exporter", kind).Info("Tracing initialized")
	return nil
}

func (t *Telemetry) initMetrics(res *resource.Resource) error {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	t.shutdowns = append(t.shutdowns, mp.Shutdown)

	t.Handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return nil
}

func (t *Telemetry) serve(bind string) error {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler)
	t.listener = ln
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	t.logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")
	return nil
}

// Addr returns the metrics listener address, or "" when not serving
func (t *Telemetry) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Shutdown stops the metrics server and flushes the providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdowns = nil
	return errors.Join(errs...)
}
