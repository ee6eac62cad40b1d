// Package kbtools exposes the knowledge store to the model as the tools a
// unit-test generation run can call.
package kbtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/utgen/agentloop"
	"github.com/martinemde/utgen/knowledge"
)

// Tool names as advertised to the model.
const (
	GetSourceFile           = "GET_SOURCE_FILE"
	GetTestTemplate         = "GET_TEST_TEMPLATE"
	GetDetailForOne         = "GET_DETAIL_FOR_ONE"
	GetFunctionUTDependency = "GET_FUNCTION_UT_DEPENDENCY"
	GetSiblingDependency    = "GET_SIBLING_DEPENDENCY"
)

// Store is the read-only lookup surface the tools need.
type Store interface {
	SourceFile() string
	Templates() (c, h string)
	SymbolDetail(name string) (knowledge.Symbol, error)
	DirectDependencies(function string) ([]knowledge.Symbol, error)
	SiblingSubcalls() []knowledge.SiblingGroup
}

// Tools binds the knowledge tools to a store and the function under test.
type Tools struct {
	store    Store
	function string
}

// New creates the tool set for function.
func New(store Store, function string) *Tools {
	return &Tools{store: store, function: function}
}

// All returns every knowledge tool in advertisement order.
func (t *Tools) All() []agentloop.Tool {
	return []agentloop.Tool{
		agentloop.NewTool(agentloop.ToolSpec{
			Name:        GetSourceFile,
			Description: "Return the complete C source code of the target function under test, as read from its source file.",
		}, t.sourceFile),
		agentloop.NewTool(agentloop.ToolSpec{
			Name:        GetTestTemplate,
			Description: "Provide boilerplate unit test templates (.c and .h) for the specified function, including necessary placeholders.",
		}, t.testTemplate),
		agentloop.NewTool(agentloop.ToolSpec{
			Name:        GetDetailForOne,
			Description: "Fetch detailed information for a single symbol, including its name, documentation, implementation, and source location.",
			Parameters: map[string]agentloop.ParamSpec{
				"symbol_name": {Type: agentloop.ParamString, Description: "Exact name of the symbol to look up.", Required: true},
			},
		}, t.detailForOne),
		agentloop.NewTool(agentloop.ToolSpec{
			Name: GetFunctionUTDependency,
			Description: "List the direct dependencies (functions, types, macros) used inside the function under test " +
				"in the source file under test, for use in generating necessary mocks/stubs/fakes.",
		}, t.functionUTDependency),
		agentloop.NewTool(agentloop.ToolSpec{
			Name: GetSiblingDependency,
			Description: "List the sub-calls inside sibling functions in the source file under test, for use in generating " +
				"necessary stubs or mocks to resolve external symbols and linking issues.",
		}, t.siblingDependency),
	}
}

// Register adds every knowledge tool for function to reg.
func Register(reg *agentloop.ToolRegistry, store Store, function string) error {
	for _, tool := range New(store, function).All() {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Spec().Name, err)
		}
	}
	return nil
}

func joinSections(parts []string) string {
	return strings.Join(parts, "\n\n")
}

func (t *Tools) sourceFile(ctx context.Context, _ agentloop.Arguments) (string, error) {
	return joinSections([]string{"# THE FUNCTION SOURCE FILE:", t.store.SourceFile()}), nil
}

func (t *Tools) testTemplate(ctx context.Context, _ agentloop.Arguments) (string, error) {
	c, h := t.store.Templates()
	return joinSections([]string{
		"# Unit Test C File Template", c,
		"# Unit Test H File Template", h,
	}), nil
}

func (t *Tools) detailForOne(ctx context.Context, args agentloop.Arguments) (string, error) {
	name, _ := args.String("symbol_name")
	sym, err := t.store.SymbolDetail(name)
	if errors.Is(err, knowledge.ErrSymbolNotFound) {
		return fmt.Sprintf("# DETAIL FOR %s not found", name), nil
	}
	if err != nil {
		return "", err
	}
	return joinSections([]string{
		"# DETAIL FOR " + name,
		"## Kind: " + sym.Kind.String(),
		"## Documentation\n" + sym.Documentation,
		"## Implementation\n" + sym.Implementation,
	}), nil
}

func (t *Tools) functionUTDependency(ctx context.Context, _ agentloop.Arguments) (string, error) {
	deps, err := t.store.DirectDependencies(t.function)
	if err != nil {
		return "", &agentloop.ToolExecutionError{Tool: GetFunctionUTDependency, Message: err.Error(), Err: err}
	}
	parts := []string{"# SUB-CALLS AND SYMBOLS USED INSIDE FUNCTION UNDER TEST " + t.function}
	for _, sym := range deps {
		parts = append(parts,
			fmt.Sprintf("## SYMBOL NAME: `%s`", sym.Name),
			"### KIND: "+sym.Kind.String(),
			"### DOCUMENTATION: ",
			knowledge.RawToBlock(sym.Documentation),
			"### IMPLEMENTATION: ",
			knowledge.RawToBlock(sym.Implementation),
		)
	}
	return joinSections(parts), nil
}

func (t *Tools) siblingDependency(ctx context.Context, _ agentloop.Arguments) (string, error) {
	parts := []string{"# SUB-CALLS INSIDE **SIBLING** FUNCTION:"}
	for _, g := range t.store.SiblingSubcalls() {
		if g.Leaf {
			parts = append(parts, "None")
			continue
		}
		for _, fn := range g.Functions {
			parts = append(parts, "## Function signature: \n"+knowledge.RawToBlock(fn.Definition))
		}
	}
	return joinSections(parts), nil
}
