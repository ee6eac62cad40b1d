package kbtools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/utgen/agentloop"
	"github.com/martinemde/utgen/knowledge"
)

const fixtureJSON = `{
  "type": "callHierarchy",
  "tree": [
    {
      "name": "PortInit",
      "kind": 11,
      "uri": "file:///src/Port.c",
      "documentation": "",
      "definition": "int PortInit (void)",
      "implementation": "int PortInit (void) {\\r\\n  return PortRead ();\\r\\n}",
      "dependencies": {
        "callTree": [
          {"name": "PortRead", "kind": 11, "uri": "", "documentation": "Reads a port", "definition": "int PortRead (void)", "implementation": "int PortRead (void) {\\r\\n  return 0;\\r\\n}", "dependencies": {}},
          {"name": "PORT_MAX", "kind": 13, "uri": "", "documentation": "", "definition": "#define PORT_MAX 4", "implementation": "#define PORT_MAX 4", "dependencies": {}}
        ]
      }
    },
    {
      "name": "PortIdle",
      "kind": 11,
      "uri": "file:///src/Port.c",
      "documentation": "",
      "definition": "void PortIdle (void)",
      "implementation": "",
      "dependencies": {"callTree": []}
    }
  ]
}`

func newStore(t *testing.T) *knowledge.Store {
	t.Helper()
	h, err := knowledge.ParseCallHierarchy([]byte(fixtureJSON))
	require.NoError(t, err)
	return knowledge.New(h, "int PortInit (void) { return PortRead (); }", "#include \"PortInitUt.h\"", "#pragma once")
}

func invoke(t *testing.T, reg *agentloop.ToolRegistry, name string, args map[string]interface{}) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return reg.Invoke(context.Background(), name, raw)
}

func newRegistry(t *testing.T, function string) *agentloop.ToolRegistry {
	t.Helper()
	reg := agentloop.NewToolRegistry()
	require.NoError(t, Register(reg, newStore(t), function))
	return reg
}

func TestRegister(t *testing.T) {
	reg := newRegistry(t, "PortInit")
	assert.Equal(t, []string{
		GetDetailForOne, GetFunctionUTDependency, GetSiblingDependency, GetSourceFile, GetTestTemplate,
	}, reg.Names())

	err := Register(reg, newStore(t), "PortInit")
	assert.ErrorIs(t, err, agentloop.ErrDuplicateTool)

	spec, ok := reg.Get(GetDetailForOne)
	require.True(t, ok)
	assert.True(t, spec.Spec().Parameters["symbol_name"].Required)
}

func TestSourceFile(t *testing.T) {
	out, err := invoke(t, newRegistry(t, "PortInit"), GetSourceFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "# THE FUNCTION SOURCE FILE:\n\nint PortInit (void) { return PortRead (); }", out)
}

func TestTestTemplate(t *testing.T) {
	out, err := invoke(t, newRegistry(t, "PortInit"), GetTestTemplate, nil)
	require.NoError(t, err)
	assert.Equal(t,
		"# Unit Test C File Template\n\n#include \"PortInitUt.h\"\n\n# Unit Test H File Template\n\n#pragma once",
		out)
}

func TestDetailForOne(t *testing.T) {
	reg := newRegistry(t, "PortInit")

	out, err := invoke(t, reg, GetDetailForOne, map[string]interface{}{"symbol_name": "PortRead"})
	require.NoError(t, err)
	assert.Equal(t, "# DETAIL FOR PortRead\n\n"+
		"## Kind: Function\n\n"+
		"## Documentation\nReads a port\n\n"+
		"## Implementation\nint PortRead (void) {\\r\\n  return 0;\\r\\n}", out)

	out, err = invoke(t, reg, GetDetailForOne, map[string]interface{}{"symbol_name": "Nope"})
	require.NoError(t, err)
	assert.Equal(t, "# DETAIL FOR Nope not found", out)

	_, err = invoke(t, reg, GetDetailForOne, nil)
	var te *agentloop.ToolExecutionError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Message, "symbol_name")
}

func TestFunctionUTDependency(t *testing.T) {
	out, err := invoke(t, newRegistry(t, "PortInit"), GetFunctionUTDependency, nil)
	require.NoError(t, err)
	assert.Equal(t, "# SUB-CALLS AND SYMBOLS USED INSIDE FUNCTION UNDER TEST PortInit\n\n"+
		"## SYMBOL NAME: `PortRead`\n\n"+
		"### KIND: Function\n\n"+
		"### DOCUMENTATION: \n\n"+
		"```c\nReads a port\n```\n\n"+
		"### IMPLEMENTATION: \n\n"+
		"```c\nint PortRead (void) {\n  return 0;\n}\n```\n\n"+
		"## SYMBOL NAME: `PORT_MAX`\n\n"+
		"### KIND: Constant\n\n"+
		"### DOCUMENTATION: \n\n"+
		"```c\n\n```\n\n"+
		"### IMPLEMENTATION: \n\n"+
		"```c\n#define PORT_MAX 4\n```", out)

	out, err = invoke(t, newRegistry(t, "PortIdle"), GetFunctionUTDependency, nil)
	require.NoError(t, err)
	assert.Equal(t, "# SUB-CALLS AND SYMBOLS USED INSIDE FUNCTION UNDER TEST PortIdle", out)
}

func TestFunctionUTDependency_UnknownFunction(t *testing.T) {
	_, err := invoke(t, newRegistry(t, "PortRead"), GetFunctionUTDependency, nil)
	var te *agentloop.ToolExecutionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, GetFunctionUTDependency, te.Tool)
	assert.ErrorIs(t, err, knowledge.ErrSymbolNotFound)
}

func TestSiblingDependency(t *testing.T) {
	out, err := invoke(t, newRegistry(t, "PortInit"), GetSiblingDependency, nil)
	require.NoError(t, err)
	assert.Equal(t, "# SUB-CALLS INSIDE **SIBLING** FUNCTION:\n\n"+
		"## Function signature: \n```c\nint PortRead (void)\n```\n\n"+
		"None", out)
}
