// Package prompt builds the system directive and the initial user request
// for a unit test generation run.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

//go:embed system.md
var defaultSystem string

const maxProjectDocBytes = 32 * 1024 // 32KB

// projectDocNames are instruction files picked up next to the knowledge base.
var projectDocNames = []string{"AGENTS.md", "UTGEN.md"}

// DefaultSystem returns the embedded system directive.
func DefaultSystem() string {
	return defaultSystem
}

// LoadSystem reads the system directive from path. An empty path selects the
// embedded default.
func LoadSystem(path string) (string, error) {
	if path == "" {
		return defaultSystem, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	return string(data), nil
}

// UserRequest is the first user message of a run.
func UserRequest(function string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate a complete unit test for the %s function.\n", function)
	sb.WriteString("Your output must include:\n")
	sb.WriteString("- Unit test header file (.h)\n")
	sb.WriteString("- Unit test source file (.c)\n")
	sb.WriteString("- Any necessary mocks or stubs\n")
	sb.WriteString("- Mock/Stub/Fake dependencies especially any sub-functions called by functions declared in the source file to prevent compiler linking issues\n")
	sb.WriteString("\nRespond only with code blocks.")
	return sb.String()
}

// Environment describes the run to the model.
type Environment struct {
	Function      string
	SourceFile    string
	KnowledgeBase string
	Model         string
	Date          time.Time
}

// Render produces the <environment> block.
func (e Environment) Render() string {
	date := e.Date
	if date.IsZero() {
		date = time.Now()
	}
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Function under test: %s\n", e.Function)
	if e.SourceFile != "" {
		fmt.Fprintf(&sb, "Source file: %s\n", filepath.Base(e.SourceFile))
	}
	if e.KnowledgeBase != "" {
		fmt.Fprintf(&sb, "Knowledge base: %s\n", e.KnowledgeBase)
	}
	if e.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", e.Model)
	}
	fmt.Fprintf(&sb, "Today's date: %s\n", date.Format("2006-01-02"))
	sb.WriteString("</environment>")
	return sb.String()
}

// BuildSystem joins the directive, the environment block and any project
// instructions into the system message.
func BuildSystem(directive string, env Environment, projectDocs string) string {
	parts := []string{strings.TrimRight(directive, "\n"), env.Render()}
	if projectDocs != "" {
		parts = append(parts, projectDocs)
	}
	return strings.Join(parts, "\n\n")
}

// DiscoverProjectDocs loads the recognized instruction files found in dirs,
// in order, capped at 32KB in total.
func DiscoverProjectDocs(dirs ...string) string {
	var docs []string
	totalBytes := 0
	seen := make(map[string]bool)

	for _, dir := range dirs {
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true

		for _, fileName := range projectDocNames {
			path := filepath.Join(dir, fileName)
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}

			remaining := maxProjectDocBytes - totalBytes
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}

			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
			}

			header := fmt.Sprintf("# %s (from %s)", fileName, dir)
			docs = append(docs, header+"\n\n"+text)
			totalBytes += len(text)
		}
	}

	return strings.Join(docs, "\n\n---\n\n")
}
