package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/martinemde/utgen/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	resp    *unifiedllm.Response
	err     error
	lastReq unifiedllm.Request
}

func (s *stubAdapter) Name() string { return "stub" }

func (s *stubAdapter) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	s.lastReq = req
	return s.resp, s.err
}

func TestLLMModelGenerate(t *testing.T) {
	adapter := &stubAdapter{resp: &unifiedllm.Response{
		ID:    "resp_1",
		Model: "o4-mini",
		Message: unifiedllm.Message{
			Role: unifiedllm.RoleAssistant,
			Content: []unifiedllm.ContentPart{
				unifiedllm.ThinkingPart("need the header", ""),
				unifiedllm.TextPart("Action: fetch"),
				unifiedllm.ToolCallPart("dup", "GET_SOURCE_FILE", json.RawMessage(`{}`)),
				unifiedllm.ToolCallPart("dup", "GET_TEST_TEMPLATE", json.RawMessage(`{}`)),
				unifiedllm.ToolCallPart("", "TERMINATE", json.RawMessage(`{}`)),
			},
		},
		Usage: unifiedllm.Usage{InputTokens: 100, OutputTokens: 7, TotalTokens: 107},
	}}
	client := unifiedllm.NewClient(unifiedllm.WithProvider("stub", adapter))
	temp := 1.0
	model := NewLLMModel(client, LLMModelConfig{Model: "o4-mini", Temperature: &temp})

	transcript := []Message{NewSystemMessage("sys"), NewUserMessage("user")}
	tools := []unifiedllm.ToolDefinition{TerminateDefinition()}
	resp, err := model.Generate(context.Background(), transcript, tools)
	require.NoError(t, err)

	assert.Equal(t, "Action: fetch", resp.Text)
	assert.Equal(t, "need the header", resp.Reasoning)
	assert.Equal(t, 107, resp.Usage.TotalTokens)

	require.Len(t, resp.Requests, 3)
	assert.Equal(t, "dup", resp.Requests[0].ID)
	assert.NotEqual(t, "dup", resp.Requests[1].ID)
	assert.True(t, strings.HasPrefix(resp.Requests[2].ID, "call_"))
	assert.Equal(t, "TERMINATE", resp.Requests[2].Name)

	req := adapter.lastReq
	assert.Equal(t, "o4-mini", req.Model)
	assert.Equal(t, "auto", req.ToolChoice.Mode)
	assert.Len(t, req.Messages, 2)
	assert.Equal(t, tools, req.ToolDefs)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 1.0, *req.Temperature)
}

func TestLLMModelErrors(t *testing.T) {
	client := unifiedllm.NewClient(unifiedllm.WithProvider("stub", &stubAdapter{err: &unifiedllm.AuthenticationError{}}))
	_, err := NewLLMModel(client, LLMModelConfig{Model: "o4-mini"}).Generate(context.Background(), nil, nil)
	var authErr *unifiedllm.AuthenticationError
	assert.True(t, errors.As(err, &authErr))

	client = unifiedllm.NewClient(unifiedllm.WithProvider("stub", &stubAdapter{}))
	_, err = NewLLMModel(client, LLMModelConfig{Model: "o4-mini"}).Generate(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "returned no response")
}
