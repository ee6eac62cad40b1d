package agentloop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// tracerName is the OTel tracer used for run and dispatch spans.
const tracerName = "utgen.agentloop"

// Tool call status labels.
const (
	toolStatusSuccess   = "success"
	toolStatusError     = "error"
	toolStatusUnknown   = "unknown"
	toolStatusRepeated  = "repeated"
	toolStatusTerminate = "terminate"
)

var (
	// runsTotal counts finished runs.
	//
	// Labels:
	//   - outcome: completed, terminated, repeated_tool_call,
	//     step_budget_exceeded, adapter_failure
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "utgen",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Total number of agent runs by outcome.",
		},
		[]string{"outcome"},
	)

	// runSteps observes model invocations per run.
	runSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "utgen",
			Subsystem: "agent",
			Name:      "run_steps",
			Help:      "Model invocations per agent run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		},
	)

	// toolCallsTotal counts dispatched tool requests.
	//
	// Labels:
	//   - tool: requested tool name as sent by the model
	//   - status: success, error, unknown, repeated, terminate
	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "utgen",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Total tool requests dispatched by the agent loop.",
		},
		[]string{"tool", "status"},
	)
)

func recordRunMetrics(outcome Outcome, steps int) {
	runsTotal.WithLabelValues(string(outcome)).Inc()
	runSteps.Observe(float64(steps))
}

func recordToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}
