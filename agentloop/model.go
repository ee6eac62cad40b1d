package agentloop

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/martinemde/utgen/unifiedllm"
)

// ModelResponse is one answer from the language model.
type ModelResponse struct {
	ID        string
	Model     string
	Text      string
	Reasoning string
	Requests  []ToolRequest
	Usage     unifiedllm.Usage
}

// Model is the language model seen by the control loop. Implementations
// receive the full transcript on every call and must return request ids that
// are unique within the response. Any error is fatal for the run.
type Model interface {
	Generate(ctx context.Context, transcript []Message, tools []unifiedllm.ToolDefinition) (*ModelResponse, error)
}

// LLMModelConfig selects the model and sampling options for LLMModel.
type LLMModelConfig struct {
	Provider        string
	Model           string
	Temperature     *float64
	MaxTokens       *int
	ReasoningEffort string
}

// LLMModel implements Model on top of a unifiedllm.Client.
type LLMModel struct {
	client *unifiedllm.Client
	cfg    LLMModelConfig
}

// NewLLMModel wraps client.
func NewLLMModel(client *unifiedllm.Client, cfg LLMModelConfig) *LLMModel {
	return &LLMModel{client: client, cfg: cfg}
}

// Generate converts the transcript into a completion request.
func (m *LLMModel) Generate(ctx context.Context, transcript []Message, tools []unifiedllm.ToolDefinition) (*ModelResponse, error) {
	req := unifiedllm.Request{
		Model:           m.cfg.Model,
		Provider:        m.cfg.Provider,
		Messages:        ConvertMessages(transcript),
		ToolDefs:        tools,
		ToolChoice:      &unifiedllm.ToolChoice{Mode: "auto"},
		Temperature:     m.cfg.Temperature,
		MaxTokens:       m.cfg.MaxTokens,
		ReasoningEffort: m.cfg.ReasoningEffort,
	}

	resp, err := m.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("model %s returned no response", m.cfg.Model)
	}

	calls := resp.ToolCallsFromResponse()
	requests := make([]ToolRequest, 0, len(calls))
	seen := make(map[string]bool, len(calls))
	for _, call := range calls {
		id := call.ID
		if id == "" || seen[id] {
			id = "call_" + uuid.New().String()
		}
		seen[id] = true
		requests = append(requests, ToolRequest{ID: id, Name: call.Name, Arguments: call.Arguments})
	}

	return &ModelResponse{
		ID:        resp.ID,
		Model:     resp.Model,
		Text:      resp.Text(),
		Reasoning: resp.Reasoning(),
		Requests:  requests,
		Usage:     resp.Usage,
	}, nil
}
