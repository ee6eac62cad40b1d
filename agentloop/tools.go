package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/martinemde/utgen/unifiedllm"
)

// TerminateTool is the reserved sentinel name. The loop advertises and
// handles it itself; it can never be registered.
const TerminateTool = "TERMINATE"

var (
	// ErrUnknownTool is returned by ToolRegistry.Invoke for unregistered names.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrReservedTool is returned when registering the terminate sentinel.
	ErrReservedTool = errors.New("tool name is reserved")
)

// ToolExecutionError reports a tool that ran and failed. Message is what the
// model sees after the "Error: " prefix.
type ToolExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolExecutionError) Error() string { return e.Message }

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ParamType is a JSON-schema primitive type.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
}

// ToolSpec is the model-facing description of a tool.
type ToolSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty"`
}

// Schema renders the parameters as a JSON-schema object.
func (s ToolSpec) Schema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Parameters))
	required := make([]string, 0)
	for name, p := range s.Parameters {
		prop := map[string]interface{}{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Definition converts s into the tool definition sent to the model.
func (s ToolSpec) Definition() unifiedllm.ToolDefinition {
	return unifiedllm.ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Schema(),
	}
}

// Validate checks presence of required parameters and the primitive type of
// every supplied one. Undeclared arguments are ignored.
func (s ToolSpec) Validate(args Arguments) error {
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := s.Parameters[name]
		v, ok := args[name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("missing required argument %q", name)
			}
			continue
		}
		if !matchesType(v, p.Type) {
			return fmt.Errorf("argument %q must be of type %s", name, p.Type)
		}
	}
	return nil
}

func matchesType(v interface{}, t ParamType) bool {
	switch t {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamBoolean:
		_, ok := v.(bool)
		return ok
	case ParamNumber:
		_, ok := v.(float64)
		return ok
	case ParamInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	default:
		return true
	}
}

// TerminateDefinition is the adapter definition of the sentinel tool.
func TerminateDefinition() unifiedllm.ToolDefinition {
	return ToolSpec{
		Name:        TerminateTool,
		Description: "Signal completion of unit test generation and halt any further tool invocations.",
	}.Definition()
}

// Tool is a read-only capability the model can invoke by name.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, args Arguments) (string, error)
}

type funcTool struct {
	spec ToolSpec
	fn   func(ctx context.Context, args Arguments) (string, error)
}

func (t funcTool) Spec() ToolSpec { return t.spec }

func (t funcTool) Invoke(ctx context.Context, args Arguments) (string, error) {
	return t.fn(ctx, args)
}

// NewTool adapts a function into a Tool.
func NewTool(spec ToolSpec, fn func(ctx context.Context, args Arguments) (string, error)) Tool {
	return funcTool{spec: spec, fn: fn}
}

// ToolRegistry maps tool names to implementations. It is populated at
// startup and only read afterwards.
type ToolRegistry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Empty, duplicate, and reserved names are rejected.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Spec().Name
	if name == "" {
		return errors.New("tool name is empty")
	}
	if name == TerminateTool {
		return fmt.Errorf("%w: %s", ErrReservedTool, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns a registered tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ListTools returns every tool spec sorted by name.
func (r *ToolRegistry) ListTools() []ToolSpec {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Definitions returns the adapter definitions of every registered tool,
// sorted by name. The terminate sentinel is not included.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	specs := r.ListTools()
	defs := make([]unifiedllm.ToolDefinition, len(specs))
	for i, s := range specs {
		defs[i] = s.Definition()
	}
	return defs
}

// Invoke parses and validates raw arguments and runs the named tool. It
// fails with ErrUnknownTool or a *ToolExecutionError.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args, err := ParseArguments(raw)
	if err != nil {
		return "", &ToolExecutionError{Tool: name, Message: err.Error(), Err: err}
	}
	if err := tool.Spec().Validate(args); err != nil {
		return "", &ToolExecutionError{Tool: name, Message: err.Error(), Err: err}
	}

	out, err := tool.Invoke(ctx, args)
	if err != nil {
		var te *ToolExecutionError
		if errors.As(err, &te) {
			return "", te
		}
		return "", &ToolExecutionError{Tool: name, Message: err.Error(), Err: err}
	}
	slog.Debug("tool executed", slog.String("tool", name), slog.Int("output_len", len(out)))
	return out, nil
}

// Arguments are the decoded arguments of one tool request.
type Arguments map[string]interface{}

// ParseArguments decodes raw request arguments. Empty input and JSON null
// yield empty arguments.
func ParseArguments(raw json.RawMessage) (Arguments, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Arguments{}, nil
	}
	var args Arguments
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = Arguments{}
	}
	return args, nil
}

// String extracts a string argument.
func (a Arguments) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int extracts an integer argument.
func (a Arguments) Int(key string) (int, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// Bool extracts a boolean argument.
func (a Arguments) Bool(key string) (bool, bool) {
	v, ok := a[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
