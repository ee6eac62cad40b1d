package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/utgen/unifiedllm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrStepBudgetExceeded is returned by Run when maxSteps model invocations
// were spent without the run ending on its own. The result is still returned.
var ErrStepBudgetExceeded = errors.New("step budget exceeded")

// AdapterFailure wraps a model adapter error that aborted a run.
type AdapterFailure struct {
	Step int
	Err  error
}

func (e *AdapterFailure) Error() string {
	return fmt.Sprintf("model invocation %d failed: %v", e.Step, e.Err)
}

func (e *AdapterFailure) Unwrap() error { return e.Err }

// RunResult is everything a finished run produced.
type RunResult struct {
	RunID      string
	Transcript *Transcript
	Ledger     *ActionLedger
	Scratchpad *Scratchpad
	Outcome    Outcome
	// Terminated is the termination flag as set by the dispatch guards.
	Terminated bool
	// Steps is the number of model invocations made.
	Steps int
	Usage unifiedllm.Usage
}

// FinalAnswer returns the text of the last model response.
func (r *RunResult) FinalAnswer() string {
	msgs := r.Transcript.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == MessageAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithEventEmitter streams loop events to the host.
func WithEventEmitter(e *EventEmitter) Option {
	return func(l *Loop) { l.emitter = e }
}

// WithOutputLimits truncates tool results before they enter the transcript.
func WithOutputLimits(limits OutputLimits) Option {
	return func(l *Loop) { l.limits = limits }
}

// WithTokenCounter sets the counter used for token accounting in logs.
func WithTokenCounter(c unifiedllm.TokenCounter) Option {
	return func(l *Loop) { l.tokens = c }
}

// WithContextWindow enables a warning once the transcript exceeds ratio of
// the model's context window.
func WithContextWindow(tokens int, ratio float64) Option {
	return func(l *Loop) {
		l.contextWindow = tokens
		l.contextWarnRatio = ratio
	}
}

// Loop drives a model through the tool-calling state machine. A Loop holds
// no per-run state and may be reused for sequential or concurrent runs.
type Loop struct {
	model            Model
	registry         *ToolRegistry
	logger           *slog.Logger
	emitter          *EventEmitter
	limits           OutputLimits
	tokens           unifiedllm.TokenCounter
	contextWindow    int
	contextWarnRatio float64
}

// NewLoop creates a Loop over model and the tools in registry.
func NewLoop(model Model, registry *ToolRegistry, opts ...Option) *Loop {
	l := &Loop{
		model:    model,
		registry: registry,
		logger:   slog.Default(),
		tokens:   unifiedllm.EstimateCounter{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.registry == nil {
		l.registry = NewToolRegistry()
	}
	return l
}

// run is the state exclusively owned by one Run call.
type run struct {
	id         string
	maxSteps   int
	state      State
	transcript *Transcript
	ledger     *ActionLedger
	scratchpad *Scratchpad
	terminated bool
	outcome    Outcome
	steps      int
	usage      unifiedllm.Usage
	current    Message
	failure    error
	logger     *slog.Logger
}

func (l *Loop) newRun(maxSteps int) *run {
	id := uuid.New().String()
	return &run{
		id:         id,
		maxSteps:   maxSteps,
		state:      StateAwaitingModel,
		transcript: NewTranscript(),
		ledger:     &ActionLedger{},
		scratchpad: &Scratchpad{},
		logger:     l.logger.With(slog.String("run_id", id)),
	}
}

func (r *run) finish(outcome Outcome) {
	r.outcome = outcome
	r.state = StateTerminated
}

// Run seeds a transcript with the system directive and user request and
// drives it to TERMINATED. maxSteps bounds model invocations; 0 means no
// bound. The result is returned for every outcome; the error is non-nil only
// for ErrStepBudgetExceeded and *AdapterFailure.
func (l *Loop) Run(ctx context.Context, systemDirective, userRequest string, maxSteps int) (*RunResult, error) {
	r := l.newRun(maxSteps)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agentloop.Run",
		trace.WithAttributes(
			attribute.String("run.id", r.id),
			attribute.Int("run.max_steps", maxSteps),
		),
	)
	defer span.End()

	r.transcript.Append(NewSystemMessage(systemDirective))
	r.transcript.Append(NewUserMessage(userRequest))
	l.emit(r, EventRunStart, map[string]interface{}{"max_steps": maxSteps})
	r.logger.Info("agent run started", slog.Int("max_steps", maxSteps), slog.Int("tools", l.registry.Count()))

	for r.state != StateTerminated {
		switch r.state {
		case StateAwaitingModel:
			l.awaitModel(ctx, r)
		case StateExplaining:
			l.explain(r)
		case StateDispatching:
			l.dispatch(ctx, r)
		default:
			panic(fmt.Sprintf("agentloop: invalid state %q", r.state))
		}
	}

	var err error
	switch r.outcome {
	case OutcomeStepBudgetExceeded:
		err = fmt.Errorf("%w: %d model invocations", ErrStepBudgetExceeded, r.steps)
	case OutcomeAdapterFailure:
		err = r.failure
	}

	recordRunMetrics(r.outcome, r.steps)
	span.SetAttributes(
		attribute.String("run.outcome", string(r.outcome)),
		attribute.Int("run.steps", r.steps),
		attribute.Int("run.tools_used", r.ledger.Len()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	l.emit(r, EventRunEnd, map[string]interface{}{
		"outcome": string(r.outcome),
		"steps":   r.steps,
	})
	r.logger.Info("agent run finished",
		slog.String("outcome", string(r.outcome)),
		slog.Int("steps", r.steps),
		slog.Int("messages", r.transcript.Len()),
		slog.Any("ledger", r.ledger.Names()),
	)

	return &RunResult{
		RunID:      r.id,
		Transcript: r.transcript,
		Ledger:     r.ledger,
		Scratchpad: r.scratchpad,
		Outcome:    r.outcome,
		Terminated: r.terminated,
		Steps:      r.steps,
		Usage:      r.usage,
	}, err
}

// toolDefinitions is what the model is offered: every registered tool plus
// the terminate sentinel.
func (l *Loop) toolDefinitions() []unifiedllm.ToolDefinition {
	return append(l.registry.Definitions(), TerminateDefinition())
}

// awaitModel runs the AWAITING_MODEL step.
func (l *Loop) awaitModel(ctx context.Context, r *run) {
	if r.maxSteps > 0 && r.steps >= r.maxSteps {
		r.logger.Warn("step budget exhausted", slog.Int("max_steps", r.maxSteps))
		l.emit(r, EventGuard, map[string]interface{}{"guard": string(OutcomeStepBudgetExceeded)})
		r.finish(OutcomeStepBudgetExceeded)
		return
	}

	l.synthesizePending(r)

	r.steps++
	messages := r.transcript.Messages()
	inputTokens := l.countMessages(messages)
	r.logger.Info("invoking model", slog.Int("step", r.steps), slog.Int("input_tokens", inputTokens))
	l.emit(r, EventModelRequest, map[string]interface{}{"step": r.steps, "input_tokens": inputTokens})

	mctx, span := otel.Tracer(tracerName).Start(ctx, "agentloop.Model.Generate",
		trace.WithAttributes(attribute.Int("step", r.steps), attribute.Int("input_tokens", inputTokens)),
	)
	start := time.Now()
	resp, err := l.model.Generate(mctx, messages, l.toolDefinitions())
	if err == nil && resp == nil {
		err = errors.New("model returned no response")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		r.failure = &AdapterFailure{Step: r.steps, Err: err}
		r.logger.Error("model invocation failed", slog.Int("step", r.steps), slog.String("error", err.Error()))
		l.emit(r, EventError, map[string]interface{}{"error": err.Error()})
		r.finish(OutcomeAdapterFailure)
		return
	}
	span.SetAttributes(attribute.Int("tool_requests", len(resp.Requests)))
	span.End()

	r.current = r.transcript.Append(NewAssistantMessage(resp.Text, resp.Reasoning, resp.Requests, resp.Usage))
	r.usage = r.usage.Add(resp.Usage)

	outputTokens := l.tokens.Count(resp.Text)
	r.logger.Info("model responded",
		slog.Int("step", r.steps),
		slog.Int("output_tokens", outputTokens),
		slog.Int("tool_requests", len(resp.Requests)),
		slog.Duration("duration", time.Since(start)),
	)
	l.emit(r, EventModelResponse, map[string]interface{}{
		"text":     resp.Text,
		"requests": len(resp.Requests),
	})
	l.checkContextUsage(r, inputTokens+outputTokens)

	if len(r.current.Requests) == 0 {
		r.finish(OutcomeCompleted)
		return
	}
	r.state = StateExplaining
}

// synthesizePending answers, with placeholder results, any requests of the
// latest model response that were never dispatched.
func (l *Loop) synthesizePending(r *run) {
	last, ok := r.transcript.Last()
	if !ok || last.Kind != MessageAssistant || r.transcript.IsSynthesized(last.ID) {
		return
	}
	pending := r.transcript.PendingRequests(last.ID)
	if len(pending) == 0 {
		return
	}
	l.answerWithPlaceholders(r, last.ID, pending)
}

func (l *Loop) answerWithPlaceholders(r *run, messageID string, requests []ToolRequest) {
	if len(requests) == 0 {
		return
	}
	for _, req := range requests {
		r.transcript.Append(NewToolResultMessage(req.ID, req.Name, fmt.Sprintf(placeholderFormat, req.Name, req.ID), false))
	}
	r.transcript.MarkSynthesized(messageID)
	r.logger.Warn("synthesized placeholder tool results", slog.Int("count", len(requests)))
	l.emit(r, EventPlaceholder, map[string]interface{}{"message_id": messageID, "count": len(requests)})
}

// explain runs the EXPLAINING step.
func (l *Loop) explain(r *run) {
	r.state = StateDispatching

	last, ok := r.transcript.Last()
	if !ok || last.Kind == MessageToolResult {
		return
	}
	thought, found := ExtractThought(last.Reasoning, last.Content)
	if !found {
		r.logger.Info("no explicit thought in model response", slog.Int("step", r.steps))
		return
	}
	r.scratchpad.Add(thought)
	r.logger.Info("thought", slog.Int("step", r.steps), slog.String("thought", thought))
	l.emit(r, EventThought, map[string]interface{}{"thought": thought})
}

// dispatch runs the DISPATCHING step over the current response's requests in
// emission order.
func (l *Loop) dispatch(ctx context.Context, r *run) {
	requests := r.current.Requests

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agentloop.Dispatch",
		trace.WithAttributes(attribute.Int("batch_size", len(requests))),
	)
	defer span.End()

	for i, req := range requests {
		if req.Name == TerminateTool {
			r.transcript.Append(NewToolResultMessage(req.ID, req.Name, ResultAgentTerminated, false))
			recordToolCall(req.Name, toolStatusTerminate)
			r.terminated = true
			r.logger.Info("terminate requested", slog.String("call_id", req.ID))
			l.emit(r, EventGuard, map[string]interface{}{"guard": string(OutcomeTerminated), "call_id": req.ID})
			l.answerWithPlaceholders(r, r.current.ID, requests[i+1:])
			r.finish(OutcomeTerminated)
			return
		}

		if r.ledger.Contains(req.Name) {
			r.transcript.Append(NewToolResultMessage(req.ID, req.Name, ResultRepeatedCall, true))
			recordToolCall(req.Name, toolStatusRepeated)
			r.terminated = true
			r.logger.Warn("repeated tool call", slog.String("tool", req.Name), slog.String("call_id", req.ID))
			l.emit(r, EventGuard, map[string]interface{}{"guard": string(OutcomeRepeatedToolCall), "tool": req.Name})
			span.SetAttributes(attribute.String("guard", string(OutcomeRepeatedToolCall)))
			l.answerWithPlaceholders(r, r.current.ID, requests[i+1:])
			r.finish(OutcomeRepeatedToolCall)
			return
		}

		l.invokeTool(ctx, r, req)
	}

	r.state = StateAwaitingModel
}

// invokeTool dispatches one request through the registry and records its
// correlated result.
func (l *Loop) invokeTool(ctx context.Context, r *run, req ToolRequest) {
	l.emit(r, EventToolCallStart, map[string]interface{}{"tool_name": req.Name, "call_id": req.ID})

	tctx, span := otel.Tracer(tracerName).Start(ctx, "agentloop.Tool",
		trace.WithAttributes(
			attribute.String("tool.name", req.Name),
			attribute.String("tool.call_id", req.ID),
		),
	)
	start := time.Now()
	output, err := l.registry.Invoke(tctx, req.Name, req.Arguments)

	var (
		content string
		isError bool
	)
	switch {
	case errors.Is(err, ErrUnknownTool):
		content = fmt.Sprintf(invalidToolFormat, req.Name)
		isError = true
		recordToolCall("<invalid>", toolStatusUnknown)
		r.logger.Warn("invalid tool requested", slog.String("tool", req.Name))
	case err != nil:
		msg := err.Error()
		var te *ToolExecutionError
		if errors.As(err, &te) {
			msg = te.Message
		}
		content = fmt.Sprintf(toolErrorFormat, msg)
		isError = true
		recordToolCall(req.Name, toolStatusError)
		r.logger.Warn("tool failed", slog.String("tool", req.Name), slog.String("error", msg))
	default:
		r.ledger.Record(req.Name)
		content = l.limits.Apply(req.Name, output)
		recordToolCall(req.Name, toolStatusSuccess)
	}

	if isError {
		span.SetStatus(codes.Error, content)
	}
	span.End()

	r.transcript.Append(NewToolResultMessage(req.ID, req.Name, content, isError))

	tokens := l.tokens.Count(content)
	r.logger.Info("tool result",
		slog.String("tool", req.Name),
		slog.String("call_id", req.ID),
		slog.Bool("error", isError),
		slog.Int("tokens", tokens),
		slog.Duration("duration", time.Since(start)),
	)
	data := map[string]interface{}{
		"tool_name": req.Name,
		"call_id":   req.ID,
		"tokens":    tokens,
	}
	if isError {
		data["error"] = content
	} else {
		data["output"] = output
	}
	l.emit(r, EventToolCallEnd, data)
}

func (l *Loop) countMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += l.tokens.Count(m.Content)
	}
	return total
}

// checkContextUsage warns once the transcript nears the context window.
func (l *Loop) checkContextUsage(r *run, tokens int) {
	if l.contextWindow <= 0 || l.contextWarnRatio <= 0 {
		return
	}
	threshold := int(float64(l.contextWindow) * l.contextWarnRatio)
	if tokens <= threshold {
		return
	}
	pct := int(float64(tokens) / float64(l.contextWindow) * 100)
	msg := fmt.Sprintf("Context usage at ~%d%% of context window", pct)
	r.logger.Warn(msg, slog.Int("tokens", tokens), slog.Int("context_window", l.contextWindow))
	l.emit(r, EventWarning, map[string]interface{}{"message": msg})
}

func (l *Loop) emit(r *run, kind EventKind, data map[string]interface{}) {
	l.emitter.Emit(Event{Kind: kind, RunID: r.id, State: r.state, Data: data})
}
