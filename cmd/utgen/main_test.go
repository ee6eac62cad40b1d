package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/utgen/agentloop"
	"github.com/martinemde/utgen/config"
	"github.com/martinemde/utgen/unifiedllm"
)

const knowledgeJSON = `{
  "type": "callHierarchy",
  "tree": [
    {
      "name": "PortInit",
      "kind": 11,
      "definition": "int PortInit (void)",
      "implementation": "int PortInit (void) { return PortRead (); }",
      "dependencies": {
        "callTree": [
          {"name": "PortRead", "kind": 11, "documentation": "Reads a port", "definition": "int PortRead (void)", "implementation": "int PortRead (void) { return 0; }", "dependencies": {}}
        ]
      }
    }
  ]
}`

const finalAnswer = "```c\n#include \"PortInitUt.h\"\nint PortRead (void) { return 0; }\n```\n\n" +
	"```c\n#pragma once\n#include <UtBaseLib.h>\n```"

// scriptedModel replays responses in order and records every transcript it
// was given.
type scriptedModel struct {
	responses []*agentloop.ModelResponse
	calls     int
	seen      [][]agentloop.Message
}

func (m *scriptedModel) Generate(ctx context.Context, transcript []agentloop.Message, tools []unifiedllm.ToolDefinition) (*agentloop.ModelResponse, error) {
	m.seen = append(m.seen, transcript)
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

type fixture struct {
	dir     string
	cfgPath string
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	model   *scriptedModel
	app     *app
}

func newFixture(t *testing.T, responses ...*agentloop.ModelResponse) *fixture {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("knowledge/KnowledgeBase.json", knowledgeJSON)
	write("knowledge/sourcefile.c", "int PortInit (void) { return PortRead (); }")
	write("template/template.c", "/* c template */")
	write("template/template.h", "/* h template */")
	write("utgen.yaml", strings.Join([]string{
		"agent:",
		"  max_steps: 5",
		"knowledge:",
		"  base_path: " + filepath.Join(dir, "knowledge/KnowledgeBase.json"),
		"  source_file: " + filepath.Join(dir, "knowledge/sourcefile.c"),
		"  c_template: " + filepath.Join(dir, "template/template.c"),
		"  h_template: " + filepath.Join(dir, "template/template.h"),
		"output:",
		"  dir: " + filepath.Join(dir, "output"),
		"log:",
		"  level: error",
	}, "\n"))

	f := &fixture{
		dir:     dir,
		cfgPath: filepath.Join(dir, "utgen.yaml"),
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		model:   &scriptedModel{responses: responses},
	}
	f.app = &app{
		stdin:  strings.NewReader(""),
		stdout: f.stdout,
		stderr: f.stderr,
		newModel: func(cfg *config.Config, logger *slog.Logger) (agentloop.Model, modelInfo, error) {
			return f.model, modelInfo{Name: cfg.LLM.Model, ContextWindow: 200000}, nil
		},
	}
	return f
}

func (f *fixture) execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd(f.app)
	cmd.SetArgs(append([]string{"--config", f.cfgPath}, args...))
	return cmd.Execute()
}

func standardScript() []*agentloop.ModelResponse {
	return []*agentloop.ModelResponse{
		{
			Text:     "Thought: I need the source first.\nAction: GET_SOURCE_FILE",
			Requests: []agentloop.ToolRequest{{ID: "1", Name: "GET_SOURCE_FILE"}},
		},
		{Text: finalAnswer},
	}
}

func TestRun_WritesUnitTestFiles(t *testing.T) {
	f := newFixture(t, standardScript()...)
	transcriptPath := filepath.Join(f.dir, "runs", "transcript.json")

	require.NoError(t, f.execute(t, "run", "PortInit", "--transcript", transcriptPath))

	src, err := os.ReadFile(filepath.Join(f.dir, "output", "PortInitUt.c"))
	require.NoError(t, err)
	assert.Contains(t, string(src), `#include "PortInitUt.h"`)
	hdr, err := os.ReadFile(filepath.Join(f.dir, "output", "PortInitUt.h"))
	require.NoError(t, err)
	assert.Contains(t, string(hdr), "#pragma once")

	out := f.stdout.String()
	assert.Contains(t, out, "--- SYSTEM ---")
	assert.Contains(t, out, "Function under test: PortInit")
	assert.Contains(t, out, "--- USER ---\nGenerate a complete unit test for the PortInit function.")
	assert.Contains(t, out, "[tool call 1] GET_SOURCE_FILE {}")
	assert.Contains(t, out, "--- TOOL:GET_SOURCE_FILE ---\n# THE FUNCTION SOURCE FILE:\n\nint PortInit (void) { return PortRead (); }")
	assert.Contains(t, f.stderr.String(), "outcome: completed, steps: 2, tools: GET_SOURCE_FILE")

	data, err := os.ReadFile(transcriptPath)
	require.NoError(t, err)
	var dump struct {
		Outcome    string   `json:"outcome"`
		Ledger     []string `json:"ledger"`
		Scratchpad []string `json:"scratchpad"`
		Transcript struct {
			Messages []json.RawMessage `json:"messages"`
		} `json:"transcript"`
	}
	require.NoError(t, json.Unmarshal(data, &dump))
	assert.Equal(t, "completed", dump.Outcome)
	assert.Equal(t, []string{"GET_SOURCE_FILE"}, dump.Ledger)
	assert.Equal(t, []string{"I need the source first."}, dump.Scratchpad)
	assert.Len(t, dump.Transcript.Messages, 5)
}

func TestRun_ReadsFunctionFromStdin(t *testing.T) {
	f := newFixture(t, &agentloop.ModelResponse{Text: finalAnswer})
	f.app.stdin = strings.NewReader("PortInit\n")

	require.NoError(t, f.execute(t, "run", "--no-write", "--quiet"))

	assert.True(t, strings.HasPrefix(f.stdout.String(), "What function to test: "))
	require.Len(t, f.model.seen, 1)
	assert.Contains(t, f.model.seen[0][1].Content, "for the PortInit function")
	_, err := os.Stat(filepath.Join(f.dir, "output", "PortInitUt.c"))
	assert.True(t, os.IsNotExist(err), "--no-write leaves the output directory alone")
}

func TestRun_EmptyFunctionName(t *testing.T) {
	f := newFixture(t)
	f.app.stdin = strings.NewReader("\n")
	err := f.execute(t, "run")
	assert.ErrorContains(t, err, "no function under test given")
}

func TestRun_StepBudget(t *testing.T) {
	f := newFixture(t,
		&agentloop.ModelResponse{Requests: []agentloop.ToolRequest{{ID: "1", Name: "GET_SOURCE_FILE"}}},
		&agentloop.ModelResponse{Requests: []agentloop.ToolRequest{{ID: "2", Name: "GET_TEST_TEMPLATE"}}},
	)
	err := f.execute(t, "run", "PortInit", "--max-steps", "2", "--quiet")
	assert.ErrorIs(t, err, agentloop.ErrStepBudgetExceeded)
	assert.Contains(t, f.stderr.String(), "outcome: step_budget_exceeded")
	_, statErr := os.Stat(filepath.Join(f.dir, "output"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_Events(t *testing.T) {
	f := newFixture(t, standardScript()...)
	require.NoError(t, f.execute(t, "run", "PortInit", "--events", "--quiet"))

	events := f.stderr.String()
	assert.Contains(t, events, "run_start")
	assert.Contains(t, events, "tool_call_end")
	assert.Contains(t, events, "run_end")
}

func TestRun_InvalidOverride(t *testing.T) {
	f := newFixture(t)
	err := f.execute(t, "run", "PortInit", "--provider", "nope")
	assert.ErrorContains(t, err, "llm.provider")
}

func TestToolsCmd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.execute(t, "tools"))

	out := f.stdout.String()
	for _, name := range []string{
		"GET_DETAIL_FOR_ONE", "GET_FUNCTION_UT_DEPENDENCY", "GET_SIBLING_DEPENDENCY",
		"GET_SOURCE_FILE", "GET_TEST_TEMPLATE", "TERMINATE",
	} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "symbol_name:string")

	f.stdout.Reset()
	require.NoError(t, f.execute(t, "tools", "--json"))
	var defs []map[string]interface{}
	require.NoError(t, json.Unmarshal(f.stdout.Bytes(), &defs))
	assert.Len(t, defs, 6)
}

func TestTreeCmd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.execute(t, "tree"))
	assert.Contains(t, f.stdout.String(), "PortInit")
	assert.Contains(t, f.stdout.String(), "PortRead")
}

func TestSymbolCmd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.execute(t, "symbol", "PortRead"))
	assert.Contains(t, f.stdout.String(), "# DETAIL FOR PortRead")
	assert.Contains(t, f.stdout.String(), "## Kind: Function")

	f.stdout.Reset()
	require.NoError(t, f.execute(t, "symbol", "--deps", "PortInit"))
	assert.Contains(t, f.stdout.String(), "# SUB-CALLS AND SYMBOLS USED INSIDE FUNCTION UNDER TEST PortInit")
	assert.Contains(t, f.stdout.String(), "## SYMBOL NAME: `PortRead`")
}

func TestModelsCmd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.execute(t, "models", "--provider", "openai"))
	assert.Contains(t, f.stdout.String(), "o4-mini *")
	assert.NotContains(t, f.stdout.String(), "claude")
}

func TestPrintTranscript(t *testing.T) {
	tr := agentloop.NewTranscript()
	tr.Append(agentloop.NewSystemMessage("sys"))
	tr.Append(agentloop.NewAssistantMessage("thinking", "", []agentloop.ToolRequest{
		{ID: "a", Name: "GET_DETAIL_FOR_ONE", Arguments: json.RawMessage(`{"symbol_name":"X"}`)},
	}, unifiedllm.Usage{}))
	tr.Append(agentloop.NewToolResultMessage("a", "GET_DETAIL_FOR_ONE", "# DETAIL FOR X not found", false))

	var buf bytes.Buffer
	printTranscript(&buf, tr)
	assert.Equal(t, "\n--- SYSTEM ---\nsys\n"+
		"\n--- AI ---\nthinking\n"+
		"[tool call a] GET_DETAIL_FOR_ONE {\"symbol_name\":\"X\"}\n"+
		"\n--- TOOL:GET_DETAIL_FOR_ONE ---\n# DETAIL FOR X not found\n", buf.String())
}
