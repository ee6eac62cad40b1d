// Package telemetry installs the process-wide tracer provider and serves
// Prometheus metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Trace exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig selects where spans go.
type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	// Insecure disables TLS towards the OTLP collector.
	Insecure    bool
	ServiceName string
	Version     string
	// Writer receives stdout exporter output; defaults to os.Stderr.
	Writer io.Writer
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// SetupTracing builds a tracer provider for cfg and installs it globally.
// With ExporterNone the global no-op provider is left in place.
func SetupTracing(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return noopShutdown, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "utgen"
	}
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(serviceName))}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	var spanProcessor sdktrace.TracerProviderOption
	switch cfg.Exporter {
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("otel stdout exporter: %w", err)
		}
		spanProcessor = sdktrace.WithSyncer(exporter)
	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return nil, errors.New("OTLP endpoint is required")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otel exporter: %w", err)
		}
		spanProcessor = sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(spanProcessor, sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	slog.Debug("tracing enabled", slog.String("exporter", cfg.Exporter))

	return func(ctx context.Context) error {
		slog.Debug("tracer provider shutting down")
		return tp.Shutdown(ctx)
	}, nil
}

// MetricsHandler exposes g in the Prometheus text format. A nil g serves
// the default registry.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// MetricsServer serves /metrics until it is shut down.
type MetricsServer struct {
	srv    *http.Server
	logger *slog.Logger
}

// StartMetricsServer listens on addr in the background. An empty addr
// disables the endpoint and returns nil.
func StartMetricsServer(addr string, g prometheus.Gatherer, logger *slog.Logger) *MetricsServer {
	if addr == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(g))

	m := &MetricsServer{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
	go func() {
		logger.Info("metrics endpoint listening", slog.String("addr", addr))
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", slog.String("error", err.Error()))
		}
	}()
	return m
}

// Shutdown stops the server. It is safe on a nil server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
