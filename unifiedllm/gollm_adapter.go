package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements ProviderAdapter.
// gollm takes a single prompt, so the adapter renders the transcript into
// labelled sections and parses tool calls back out of the generated text.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
	counter  TokenCounter
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	counter     TokenCounter
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithUsageCounter sets the counter used to approximate usage, since gollm
// does not report token counts.
func WithUsageCounter(counter TokenCounter) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.counter = counter
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		maxTokens:   8192,
		temperature: 1.0,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := GetLatestModel(provider, "tools"); info != nil {
			model = info.ID
		} else {
			model = DefaultModel
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // RetryMiddleware owns retries.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	counter := cfg.counter
	if counter == nil {
		counter = EstimateCounter{}
	}
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
		counter:  counter,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		counter:  EstimateCounter{},
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: ctx.Err()}}
		}
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

// translateRequest converts a unified Request into a gollm Prompt. System
// messages become the system prompt; the rest of the transcript is rendered
// in order so the model sees its own earlier calls next to their results.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var system []string
	var parts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.TextContent())
		case RoleUser:
			parts = append(parts, msg.TextContent())
		case RoleAssistant:
			parts = append(parts, renderAssistant(msg)...)
		case RoleTool:
			if content, ok := msg.ToolResultText(); ok {
				label := "[Tool Result"
				if isErrorResult(msg) {
					label = "[Tool Error"
				}
				if msg.Name != "" {
					label += " " + msg.Name
				}
				parts = append(parts, fmt.Sprintf("%s id=%s]: %s", label, msg.ToolCallID, content))
			}
		}
	}

	promptText := strings.Join(parts, "\n\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var opts []gollm.PromptOption
	if len(system) > 0 {
		opts = append(opts, gollm.WithSystemPrompt(strings.TrimSpace(strings.Join(system, "\n")), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		opts = append(opts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}
	return gollm.NewPrompt(promptText, opts...)
}

func renderAssistant(msg Message) []string {
	var out []string
	if text := msg.TextContent(); text != "" {
		out = append(out, "[Assistant]: "+text)
	}
	for _, call := range msg.ToolCalls() {
		args := string(call.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, fmt.Sprintf("[Assistant Tool Call id=%s]: %s %s", call.ID, call.Name, args))
	}
	return out
}

func isErrorResult(msg Message) bool {
	for _, part := range msg.Content {
		if part.Kind == ContentToolResult && part.ToolResult != nil {
			return part.ToolResult.IsError
		}
	}
	return false
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.TopP != nil {
		a.llm.SetOption("top_p", *req.TopP)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
	if req.ReasoningEffort != "" {
		a.llm.SetOption("reasoning_effort", req.ReasoningEffort)
	}
}

// buildResponse constructs a unified Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, remaining := parseToolCalls(text)
	var content []ContentPart
	if thought := leadingThought(remaining); thought != "" {
		content = append(content, ThinkingPart(thought, ""))
	}
	if remaining != "" {
		content = append(content, TextPart(remaining))
	}
	for i := range calls {
		content = append(content, ContentPart{Kind: ContentToolCall, ToolCall: &calls[i]})
	}
	if len(content) == 0 {
		content = []ContentPart{TextPart(text)}
	}

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	input := a.countRequest(req)
	output := a.counter.Count(text)
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: content,
		},
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
	}
}

// leadingThought returns the text of a "Thought:" line that opens the
// response, which ReAct-style prompts ask the model to write first.
func leadingThought(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) < len("thought:") || !strings.EqualFold(trimmed[:len("thought:")], "thought:") {
			return ""
		}
		return strings.TrimSpace(trimmed[len("thought:"):])
	}
	return ""
}

func (a *GollmAdapter) countRequest(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch part.Kind {
			case ContentText:
				total += a.counter.Count(part.Text)
			case ContentToolCall:
				total += a.counter.Count(part.ToolCall.Name + string(part.ToolCall.Arguments))
			case ContentToolResult:
				total += a.counter.Count(string(part.ToolResult.Content))
			}
		}
	}
	return total
}

const (
	functionCallOpen  = "<function_call>"
	functionCallClose = "</function_call>"
)

type rawToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseToolCalls extracts tool calls embedded in generated text, either as
// <function_call>{...}</function_call> blocks or as a trailing JSON array of
// {"name", "arguments"} objects. It returns the calls and the text with the
// call markup removed.
func parseToolCalls(text string) ([]ToolCallData, string) {
	var calls []ToolCallData
	var kept strings.Builder

	rest := text
	for {
		start := strings.Index(rest, functionCallOpen)
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], functionCallClose)
		if end == -1 {
			break
		}
		body := rest[start+len(functionCallOpen) : start+end]
		var rc rawToolCall
		if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &rc); err == nil && rc.Name != "" {
			calls = append(calls, newToolCallData(rc))
			kept.WriteString(rest[:start])
		} else {
			kept.WriteString(rest[:start+end+len(functionCallClose)])
		}
		rest = rest[start+end+len(functionCallClose):]
	}
	kept.WriteString(rest)
	remaining := kept.String()

	if len(calls) == 0 {
		if idx := strings.Index(remaining, `[{"name"`); idx != -1 {
			var raws []rawToolCall
			if err := json.Unmarshal([]byte(strings.TrimSpace(remaining[idx:])), &raws); err == nil {
				for _, rc := range raws {
					calls = append(calls, newToolCallData(rc))
				}
				remaining = remaining[:idx]
			}
		}
	}
	return calls, strings.TrimSpace(remaining)
}

// newToolCallData normalizes arguments, which providers send either as an
// object or as a JSON-encoded string holding one.
func newToolCallData(rc rawToolCall) ToolCallData {
	args := rc.Arguments
	var encoded string
	if err := json.Unmarshal(args, &encoded); err == nil {
		args = json.RawMessage(encoded)
	}
	if len(args) == 0 || !json.Valid(args) {
		args = json.RawMessage("{}")
	}
	id := rc.ID
	if id == "" {
		id = "call_" + uuid.New().String()[:8]
	}
	return ToolCallData{ID: id, Name: rc.Name, Arguments: args, Type: "function"}
}

// statusHints maps phrases in gollm error text to the HTTP status they
// imply. gollm does not expose the status code itself.
var statusHints = []struct {
	status  int
	phrases []string
}{
	{401, []string{"401", "unauthorized", "invalid key", "invalid api key"}},
	{403, []string{"403", "forbidden"}},
	{404, []string{"404", "not found"}},
	{429, []string{"429", "rate limit"}},
	{413, []string{"context length", "too many tokens"}},
	{500, []string{"500", "internal server"}},
	{503, []string{"503", "overloaded", "unavailable"}},
	{400, []string{"400", "bad request"}},
}

func statusFromMessage(msg string) int {
	msg = strings.ToLower(msg)
	for _, h := range statusHints {
		for _, p := range h.phrases {
			if strings.Contains(msg, p) {
				return h.status
			}
		}
	}
	return 0
}

var retryAfterPattern = regexp.MustCompile(`(?i)(?:retry|try again) (?:after|in) (\d+(?:\.\d+)?)\s*s`)

// retryAfterFromMessage reads a "retry after 2s" style hint from provider
// error text.
func retryAfterFromMessage(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// translateError converts a gollm error into the unified error hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if status := statusFromMessage(msg); status != 0 {
		translated := ErrorFromStatusCode(status, msg, a.provider, err)
		if rl, ok := translated.(*RateLimitError); ok {
			rl.RetryAfter = retryAfterFromMessage(msg)
		}
		return translated
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{SDKError{Message: msg, Cause: err}}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider}}
	default:
		return ErrorFromStatusCode(0, msg, a.provider, err)
	}
}
