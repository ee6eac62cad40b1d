package knowledge

import (
	"encoding/json"
	"strings"
)

// rawLineBreak is the literal escaped CRLF the exporter leaves in symbol text.
const rawLineBreak = `\r\n`

// RawToBlock splits exported symbol text on its escaped line breaks and wraps
// it in a fenced C code block.
func RawToBlock(raw string) string {
	lines := strings.Split(raw, rawLineBreak)
	return "```c\n" + strings.Join(lines, "\n") + "\n```"
}

// ASCIITree renders the hierarchy with one name per line, children prefixed
// by "|__ " and indented with "|   " per level below the first.
func (h *CallHierarchy) ASCIITree() string {
	var sb strings.Builder
	h.Walk(func(n *Node, depth int) {
		if depth == 0 {
			sb.WriteString(n.Name)
			sb.WriteByte('\n')
			return
		}
		sb.WriteString(strings.Repeat("|   ", depth-1))
		sb.WriteString("|__ ")
		sb.WriteString(n.Name)
		sb.WriteByte('\n')
	})
	return sb.String()
}

type nameNode struct {
	Name     string     `json:"name"`
	Children []nameNode `json:"children,omitempty"`
}

func toNameNode(n *Node) nameNode {
	out := nameNode{Name: n.Name}
	for _, child := range n.Children() {
		if child != nil {
			out.Children = append(out.Children, toNameNode(child))
		}
	}
	return out
}

// JSONTree renders the hierarchy as indented JSON holding only node names,
// nested under "children".
func (h *CallHierarchy) JSONTree() (string, error) {
	roots := make([]nameNode, 0, len(h.Tree))
	for _, root := range h.Tree {
		roots = append(roots, toNameNode(root))
	}
	b, err := json.MarshalIndent(roots, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Symbol is the lookup entry for one named symbol.
type Symbol struct {
	Name           string
	Kind           SymbolKind
	URI            string
	Documentation  string
	Definition     string
	Implementation string
}

func symbolFromNode(n *Node) Symbol {
	return Symbol{
		Name:           n.Name,
		Kind:           n.Kind,
		URI:            n.URI,
		Documentation:  n.Documentation,
		Definition:     n.Definition,
		Implementation: n.Implementation,
	}
}

// SymbolMap indexes every node by name. Nodes are visited depth-first and a
// later occurrence of a name replaces an earlier one.
func (h *CallHierarchy) SymbolMap() map[string]Symbol {
	out := make(map[string]Symbol)
	h.Walk(func(n *Node, _ int) {
		out[n.Name] = symbolFromNode(n)
	})
	return out
}
