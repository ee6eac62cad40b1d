package knowledge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrSymbolNotFound is returned when a lookup names a symbol the knowledge
// base does not contain.
var ErrSymbolNotFound = errors.New("symbol not found")

// Paths locates the knowledge base files on disk.
type Paths struct {
	BasePath   string // call hierarchy JSON
	SourceFile string // C file holding the function under test
	CTemplate  string
	HTemplate  string
}

// SiblingGroup holds the direct sub-calls of one function defined in the
// source file under test.
type SiblingGroup struct {
	Root string
	// Leaf is true when the function has no dependencies at all.
	Leaf      bool
	Functions []Symbol
}

// Store answers read-only queries against one loaded knowledge base. It is
// safe for concurrent use once constructed.
type Store struct {
	hierarchy  *CallHierarchy
	symbols    map[string]Symbol
	sourceFile string
	cTemplate  string
	hTemplate  string
}

// New builds a Store from already loaded parts.
func New(h *CallHierarchy, sourceFile, cTemplate, hTemplate string) *Store {
	if h == nil {
		h = &CallHierarchy{}
	}
	return &Store{
		hierarchy:  h,
		symbols:    h.SymbolMap(),
		sourceFile: sourceFile,
		cTemplate:  cTemplate,
		hTemplate:  hTemplate,
	}
}

// Load reads every knowledge base file named in paths.
func Load(paths Paths, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := os.ReadFile(paths.BasePath)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	h, err := ParseCallHierarchy(raw)
	if err != nil {
		return nil, err
	}

	texts := make(map[string]string, 3)
	for label, path := range map[string]string{
		"source file": paths.SourceFile,
		"c template":  paths.CTemplate,
		"h template":  paths.HTemplate,
	} {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", label, err)
		}
		texts[label] = string(b)
	}

	s := New(h, texts["source file"], texts["c template"], texts["h template"])
	logger.Info("knowledge base loaded",
		slog.String("path", paths.BasePath),
		slog.Int("roots", len(h.Tree)),
		slog.Int("symbols", len(s.symbols)),
	)
	return s, nil
}

// Hierarchy returns the underlying call hierarchy.
func (s *Store) Hierarchy() *CallHierarchy { return s.hierarchy }

// SourceFile returns the full text of the source file under test.
func (s *Store) SourceFile() string { return s.sourceFile }

// Templates returns the unit-test .c and .h templates.
func (s *Store) Templates() (c, h string) { return s.cTemplate, s.hTemplate }

// SymbolDetail looks up a symbol by exact name.
func (s *Store) SymbolDetail(name string) (Symbol, error) {
	sym, ok := s.symbols[name]
	if !ok {
		return Symbol{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	return sym, nil
}

// HasFunction reports whether name is one of the functions defined in the
// source file under test.
func (s *Store) HasFunction(name string) bool {
	return s.hierarchy.Root(name) != nil
}

// DirectDependencies returns the symbols used directly inside function, in
// call-tree order. The function must be defined in the source file.
func (s *Store) DirectDependencies(function string) ([]Symbol, error) {
	root := s.hierarchy.Root(function)
	if root == nil {
		return nil, fmt.Errorf("%w: %s is not defined in the source file", ErrSymbolNotFound, function)
	}
	deps := make([]Symbol, 0, len(root.Children()))
	for _, child := range root.Children() {
		if child != nil {
			deps = append(deps, symbolFromNode(child))
		}
	}
	return deps, nil
}

// SiblingSubcalls returns, for every function in the source file, its direct
// sub-calls of kind Function.
func (s *Store) SiblingSubcalls() []SiblingGroup {
	groups := make([]SiblingGroup, 0, len(s.hierarchy.Tree))
	for _, root := range s.hierarchy.Tree {
		g := SiblingGroup{Root: root.Name, Leaf: len(root.Children()) == 0}
		for _, child := range root.Children() {
			if child != nil && child.Kind == KindFunction {
				g.Functions = append(g.Functions, symbolFromNode(child))
			}
		}
		groups = append(groups, g)
	}
	return groups
}
