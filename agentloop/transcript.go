package agentloop

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/utgen/unifiedllm"
)

// MessageKind discriminates transcript entries.
type MessageKind string

const (
	MessageSystem     MessageKind = "system"
	MessageUser       MessageKind = "user"
	MessageAssistant  MessageKind = "assistant"
	MessageToolResult MessageKind = "tool_result"
)

// ToolRequest is one tool invocation asked for by the model.
type ToolRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is a single transcript entry. Messages are values: once appended
// to a Transcript they are never modified.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Content   string      `json:"content"`

	// Assistant messages.
	Reasoning string           `json:"reasoning,omitempty"`
	Requests  []ToolRequest    `json:"requests,omitempty"`
	Usage     unifiedllm.Usage `json:"usage,omitzero"`

	// Tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// NewSystemMessage creates a system directive message.
func NewSystemMessage(content string) Message {
	return Message{Kind: MessageSystem, Content: content}
}

// NewUserMessage creates a user request message.
func NewUserMessage(content string) Message {
	return Message{Kind: MessageUser, Content: content}
}

// NewAssistantMessage creates a model response message.
func NewAssistantMessage(content, reasoning string, requests []ToolRequest, usage unifiedllm.Usage) Message {
	return Message{
		Kind:      MessageAssistant,
		Content:   content,
		Reasoning: reasoning,
		Requests:  requests,
		Usage:     usage,
	}
}

// NewToolResultMessage creates a tool result correlated to a request id.
func NewToolResultMessage(callID, toolName, content string, isError bool) Message {
	return Message{
		Kind:       MessageToolResult,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		IsError:    isError,
	}
}

// Transcript is the append-only conversation record of one run.
//
// Placeholder synthesis never rewrites an earlier message. Instead the id of
// the model response whose pending requests were answered is recorded in a
// separate marker set.
type Transcript struct {
	messages    []Message
	synthesized map[string]struct{}
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{synthesized: make(map[string]struct{})}
}

// Append adds a message, assigning its id and timestamp when unset, and
// returns the stored copy.
func (t *Transcript) Append(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.Requests != nil {
		m.Requests = append([]ToolRequest(nil), m.Requests...)
	}
	t.messages = append(t.messages, m)
	return m
}

// Len returns the number of messages.
func (t *Transcript) Len() int { return len(t.messages) }

// Messages returns a copy of the messages in order. Request lists are
// copied too, so callers cannot alter stored messages.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.clone()
	}
	return out
}

// Last returns a copy of the most recent message.
func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1].clone(), true
}

func (m Message) clone() Message {
	if m.Requests != nil {
		m.Requests = append([]ToolRequest(nil), m.Requests...)
	}
	return m
}

// MarkSynthesized records that the pending requests of message id were
// answered with placeholders.
func (t *Transcript) MarkSynthesized(id string) {
	t.synthesized[id] = struct{}{}
}

// IsSynthesized reports whether MarkSynthesized was called for id.
func (t *Transcript) IsSynthesized(id string) bool {
	_, ok := t.synthesized[id]
	return ok
}

// PendingRequests returns the requests of message id that have no
// correlated tool result after it. Results preceding the message never
// count, so a request id reused from an earlier response is still pending.
func (t *Transcript) PendingRequests(id string) []ToolRequest {
	for i, m := range t.messages {
		if m.ID != id {
			continue
		}
		answered := make(map[string]bool)
		for _, later := range t.messages[i+1:] {
			if later.Kind == MessageToolResult {
				answered[later.ToolCallID] = true
			}
		}
		var pending []ToolRequest
		for _, req := range m.Requests {
			if !answered[req.ID] {
				pending = append(pending, req)
			}
		}
		return pending
	}
	return nil
}

// ToLLMMessages converts the transcript into adapter messages.
func (t *Transcript) ToLLMMessages() []unifiedllm.Message {
	return ConvertMessages(t.messages)
}

// ConvertMessages converts transcript messages into adapter messages.
func ConvertMessages(messages []Message) []unifiedllm.Message {
	out := make([]unifiedllm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Kind {
		case MessageSystem:
			out = append(out, unifiedllm.SystemMessage(m.Content))
		case MessageUser:
			out = append(out, unifiedllm.UserMessage(m.Content))
		case MessageAssistant:
			msg := unifiedllm.AssistantMessage(m.Content)
			for _, req := range m.Requests {
				msg.Content = append(msg.Content,
					unifiedllm.ToolCallPart(req.ID, req.Name, req.Arguments))
			}
			out = append(out, msg)
		case MessageToolResult:
			msg := unifiedllm.ToolResultMessage(m.ToolCallID, m.Content, m.IsError)
			msg.Name = m.ToolName
			out = append(out, msg)
		}
	}
	return out
}

type transcriptJSON struct {
	Messages    []Message `json:"messages"`
	Synthesized []string  `json:"synthesized,omitempty"`
}

// MarshalJSON encodes the messages and the synthesized marker set.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(t.synthesized))
	for id := range t.synthesized {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return json.Marshal(transcriptJSON{Messages: t.messages, Synthesized: ids})
}
