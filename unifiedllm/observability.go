package unifiedllm

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "utgen.unifiedllm"

var (
	// llmCallsTotal counts provider calls.
	//
	// Labels:
	//   - provider: resolved provider name
	//   - model: requested model
	//   - status: success or an error class from classifyError
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "utgen",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Total LLM completion calls by provider, model, and status.",
		},
		[]string{"provider", "model", "status"},
	)

	// llmCallDuration observes call latency in seconds.
	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "utgen",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Latency of LLM completion calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"provider", "model"},
	)

	// llmTokensTotal counts reported tokens.
	//
	// Labels:
	//   - direction: input or output
	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "utgen",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported by LLM completion calls.",
		},
		[]string{"provider", "model", "direction"},
	)
)

// classifyError maps an error onto a bounded metric label.
func classifyError(err error) string {
	var (
		auth     *AuthenticationError
		denied   *AccessDeniedError
		notFound *NotFoundError
		rate     *RateLimitError
		server   *ServerError
		filter   *ContentFilterError
		ctxLen   *ContextLengthError
		timeout  *RequestTimeoutError
		abort    *AbortError
		config   *ConfigurationError
		provider *ProviderError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &auth), errors.As(err, &denied):
		return "auth"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &rate):
		return "rate_limit"
	case errors.As(err, &server):
		return "server"
	case errors.As(err, &filter):
		return "content_filter"
	case errors.As(err, &ctxLen):
		return "context_length"
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &abort), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &config):
		return "config"
	case errors.As(err, &provider):
		return "provider"
	default:
		return "other"
	}
}

// MetricsMiddleware records call counts, latency, and token usage.
func MetricsMiddleware() Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		llmCallDuration.WithLabelValues(req.Provider, req.Model).Observe(time.Since(start).Seconds())
		llmCallsTotal.WithLabelValues(req.Provider, req.Model, classifyError(err)).Inc()
		if err == nil && resp != nil {
			llmTokensTotal.WithLabelValues(req.Provider, req.Model, "input").Add(float64(resp.Usage.InputTokens))
			llmTokensTotal.WithLabelValues(req.Provider, req.Model, "output").Add(float64(resp.Usage.OutputTokens))
		}
		return resp, err
	}
}

// TracingMiddleware wraps each call in an "llm.Complete" span.
func TracingMiddleware() Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		ctx, span := otel.Tracer(tracerName).Start(ctx, "llm.Complete",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("llm.provider", req.Provider),
				attribute.String("llm.model", req.Model),
				attribute.Int("llm.messages", len(req.Messages)),
				attribute.Int("llm.tools", len(req.ToolDefs)),
			),
		)
		defer span.End()

		resp, err := next(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, classifyError(err))
			return resp, err
		}
		if resp != nil {
			span.SetAttributes(
				attribute.Int("llm.usage.input_tokens", resp.Usage.InputTokens),
				attribute.Int("llm.usage.output_tokens", resp.Usage.OutputTokens),
				attribute.Int("llm.tool_calls", len(resp.ToolCallsFromResponse())),
				attribute.String("llm.finish_reason", resp.FinishReason.Reason),
			)
		}
		return resp, nil
	}
}
