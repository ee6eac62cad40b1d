package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string, params map[string]ParamSpec) Tool {
	return NewTool(ToolSpec{Name: name, Description: name + " tool", Parameters: params},
		func(ctx context.Context, args Arguments) (string, error) {
			s, _ := args.String("symbol_name")
			return name + ":" + s, nil
		})
}

func TestRegistryRegister(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(echoTool("GET_SOURCE_FILE", nil)))

	err := reg.Register(echoTool("GET_SOURCE_FILE", nil))
	assert.ErrorIs(t, err, ErrDuplicateTool)

	err = reg.Register(echoTool(TerminateTool, nil))
	assert.ErrorIs(t, err, ErrReservedTool)

	assert.Error(t, reg.Register(echoTool("", nil)))
	assert.Equal(t, 1, reg.Count())
}

func TestRegistryListing(t *testing.T) {
	reg := NewToolRegistry()
	for _, name := range []string{"GET_TEST_TEMPLATE", "GET_DETAIL_FOR_ONE", "GET_SOURCE_FILE"} {
		require.NoError(t, reg.Register(echoTool(name, nil)))
	}

	assert.Equal(t, []string{"GET_DETAIL_FOR_ONE", "GET_SOURCE_FILE", "GET_TEST_TEMPLATE"}, reg.Names())

	specs := reg.ListTools()
	require.Len(t, specs, 3)
	assert.Equal(t, "GET_DETAIL_FOR_ONE", specs[0].Name)

	defs := reg.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "GET_DETAIL_FOR_ONE tool", defs[0].Description)
	assert.Equal(t, "object", defs[0].Parameters["type"])

	_, ok := reg.Get("GET_SOURCE_FILE")
	assert.True(t, ok)
	_, ok = reg.Get(TerminateTool)
	assert.False(t, ok)
}

func TestRegistryInvoke(t *testing.T) {
	params := map[string]ParamSpec{"symbol_name": {Type: ParamString, Required: true}}
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(echoTool("GET_DETAIL_FOR_ONE", params)))
	require.NoError(t, reg.Register(NewTool(ToolSpec{Name: "FAILS"}, func(context.Context, Arguments) (string, error) {
		return "", &ToolExecutionError{Tool: "FAILS", Message: "symbol X is not defined"}
	})))
	require.NoError(t, reg.Register(NewTool(ToolSpec{Name: "PLAIN_ERR"}, func(context.Context, Arguments) (string, error) {
		return "", errors.New("disk on fire")
	})))

	tests := []struct {
		name    string
		tool    string
		args    string
		want    string
		wantErr string
		unknown bool
	}{
		{name: "success", tool: "GET_DETAIL_FOR_ONE", args: `{"symbol_name":"SilGetIp"}`, want: "GET_DETAIL_FOR_ONE:SilGetIp"},
		{name: "unknown tool", tool: "NOPE", args: `{}`, unknown: true},
		{name: "malformed json", tool: "GET_DETAIL_FOR_ONE", args: `{"symbol_name":`, wantErr: "invalid tool arguments"},
		{name: "missing required", tool: "GET_DETAIL_FOR_ONE", args: `{}`, wantErr: `missing required argument "symbol_name"`},
		{name: "wrong type", tool: "GET_DETAIL_FOR_ONE", args: `{"symbol_name":3}`, wantErr: `argument "symbol_name" must be of type string`},
		{name: "tool execution error passes through", tool: "FAILS", args: ``, wantErr: "symbol X is not defined"},
		{name: "plain error is wrapped", tool: "PLAIN_ERR", args: `null`, wantErr: "disk on fire"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := reg.Invoke(context.Background(), tt.tool, json.RawMessage(tt.args))
			switch {
			case tt.unknown:
				assert.ErrorIs(t, err, ErrUnknownTool)
			case tt.wantErr != "":
				var te *ToolExecutionError
				require.ErrorAs(t, err, &te)
				assert.Contains(t, te.Message, tt.wantErr)
				assert.Equal(t, tt.tool, te.Tool)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, out)
			}
		})
	}
}

func TestToolSpecSchema(t *testing.T) {
	spec := ToolSpec{
		Name: "X",
		Parameters: map[string]ParamSpec{
			"zeta":  {Type: ParamInteger, Required: true},
			"alpha": {Type: ParamString, Description: "first", Required: true},
			"opt":   {Type: ParamBoolean},
		},
	}
	schema := spec.Schema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"alpha", "zeta"}, schema["required"])

	props := schema["properties"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string", "description": "first"}, props["alpha"])
	assert.Equal(t, map[string]interface{}{"type": "boolean"}, props["opt"])

	_, hasRequired := ToolSpec{Name: "Y"}.Schema()["required"]
	assert.False(t, hasRequired)
}

func TestToolSpecValidate(t *testing.T) {
	spec := ToolSpec{Parameters: map[string]ParamSpec{
		"count": {Type: ParamInteger},
		"ratio": {Type: ParamNumber},
		"flag":  {Type: ParamBoolean},
	}}

	assert.NoError(t, spec.Validate(Arguments{"count": 3.0, "ratio": 0.5, "flag": true, "extra": "ignored"}))
	assert.NoError(t, spec.Validate(Arguments{}))
	assert.Error(t, spec.Validate(Arguments{"count": 3.5}))
	assert.Error(t, spec.Validate(Arguments{"ratio": "half"}))
	assert.Error(t, spec.Validate(Arguments{"flag": "yes"}))
}

func TestTerminateDefinition(t *testing.T) {
	def := TerminateDefinition()
	assert.Equal(t, TerminateTool, def.Name)
	assert.NotEmpty(t, def.Description)
	assert.Equal(t, "object", def.Parameters["type"])
}

func TestArguments(t *testing.T) {
	args, err := ParseArguments(json.RawMessage(`{"name":"F","n":4,"ok":true}`))
	require.NoError(t, err)

	s, ok := args.String("name")
	assert.True(t, ok)
	assert.Equal(t, "F", s)

	n, ok := args.Int("n")
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	b, ok := args.Bool("ok")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = args.String("n")
	assert.False(t, ok)
	_, ok = args.Int("missing")
	assert.False(t, ok)

	for _, raw := range []string{"", "  ", "null"} {
		args, err := ParseArguments(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Empty(t, args)
	}

	_, err = ParseArguments(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}
