// Package knowledge loads the pre-built firmware knowledge base: the call
// hierarchy exported by the editor's language server, the source file that
// holds the function under test, and the unit-test templates.
package knowledge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SymbolKind is the language-server symbol kind of a call-tree node.
type SymbolKind int

const (
	KindFile SymbolKind = iota
	KindModule
	KindNamespace
	KindPackage
	KindClass
	KindMethod
	KindProperty
	KindField
	KindConstructor
	KindEnum
	KindInterface
	KindFunction
	KindVariable
	KindConstant
	KindString
	KindNumber
	KindBoolean
	KindArray
	KindObject
	KindKey
	KindNull
	KindEnumMember
	KindStruct
	KindEvent
	KindOperator
	KindTypeParameter
)

var kindNames = [...]string{
	"File", "Module", "Namespace", "Package", "Class", "Method", "Property",
	"Field", "Constructor", "Enum", "Interface", "Function", "Variable",
	"Constant", "String", "Number", "Boolean", "Array", "Object", "Key",
	"Null", "EnumMember", "Struct", "Event", "Operator", "TypeParameter",
}

// String returns the kind name, or "None" for values outside the table.
func (k SymbolKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "None"
	}
	return kindNames[k]
}

// UnmarshalJSON accepts the kind either as a number or as a numeric string;
// exporters have produced both.
func (k *SymbolKind) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*k = SymbolKind(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("symbol kind: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("symbol kind %q: %w", s, err)
	}
	*k = SymbolKind(n)
	return nil
}

// Position is a zero-based line/character location in a source file.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans two positions. Missing positions decode to the zero range.
type Range struct {
	Start Position
	End   Position
}

// UnmarshalJSON decodes the [start, end] position list form.
func (r *Range) UnmarshalJSON(data []byte) error {
	var positions []Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return fmt.Errorf("range: %w", err)
	}
	*r = Range{}
	if len(positions) >= 2 {
		r.Start, r.End = positions[0], positions[1]
	}
	return nil
}

// Node is one symbol in the call hierarchy along with the symbols it uses.
type Node struct {
	Name           string       `json:"name"`
	Kind           SymbolKind   `json:"kind"`
	URI            string       `json:"uri"`
	Documentation  string       `json:"documentation"`
	Definition     string       `json:"definition"`
	Implementation string       `json:"implementation"`
	Range          Range        `json:"range"`
	SelectionRange Range        `json:"selectionRange"`
	Dependencies   Dependencies `json:"dependencies"`
}

// Dependencies lists the direct sub-calls and symbols used by a node.
type Dependencies struct {
	CallTree []*Node `json:"callTree"`
}

// Children returns the node's direct dependencies.
func (n *Node) Children() []*Node {
	return n.Dependencies.CallTree
}

// CallHierarchy is the top-level knowledge base document. Each root is one
// function defined in the source file under test.
type CallHierarchy struct {
	Type string  `json:"type"`
	Tree []*Node `json:"tree"`
}

// ParseCallHierarchy decodes a knowledge base document.
func ParseCallHierarchy(data []byte) (*CallHierarchy, error) {
	var h CallHierarchy
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse call hierarchy: %w", err)
	}
	for i, root := range h.Tree {
		if root == nil || root.Name == "" {
			return nil, fmt.Errorf("parse call hierarchy: root %d has no name", i)
		}
	}
	return &h, nil
}

// Root returns the top-level node with the given name.
func (h *CallHierarchy) Root(name string) *Node {
	for _, root := range h.Tree {
		if root.Name == name {
			return root
		}
	}
	return nil
}

// Walk visits every node depth-first, parents before children.
func (h *CallHierarchy) Walk(fn func(n *Node, depth int)) {
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		fn(n, depth)
		for _, child := range n.Children() {
			if child != nil {
				visit(child, depth+1)
			}
		}
	}
	for _, root := range h.Tree {
		visit(root, 0)
	}
}
