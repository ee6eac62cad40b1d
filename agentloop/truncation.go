package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// OutputLimits bounds what a tool result may contribute to the transcript.
// Tools without an entry are passed through untouched.
type OutputLimits struct {
	Chars map[string]int
	Lines map[string]int
	Modes map[string]TruncationMode
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	default:
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"Request individual symbols with GET_DETAIL_FOR_ONE for the missing parts.]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// Apply truncates a tool's output: characters first, then lines.
func (l OutputLimits) Apply(toolName, output string) string {
	result := output
	if maxChars := l.Chars[toolName]; maxChars > 0 {
		mode, ok := l.Modes[toolName]
		if !ok {
			mode = TruncateHeadTail
		}
		result = TruncateOutput(result, maxChars, mode)
	}
	if maxLines := l.Lines[toolName]; maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
