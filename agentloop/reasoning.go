package agentloop

import "strings"

const thoughtPrefix = "thought:"

// ExtractThought returns the reasoning annotation of a model response. The
// structured reasoning supplied by the adapter takes precedence; otherwise the
// first line of text whose trimmed, lower-cased form starts with "thought:"
// is used, taking everything after its first colon. An empty annotation
// counts as no thought.
func ExtractThought(structured, text string) (string, bool) {
	if s := strings.TrimSpace(structured); s != "" {
		return s, true
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToLower(trimmed), thoughtPrefix) {
			continue
		}
		_, after, _ := strings.Cut(trimmed, ":")
		thought := strings.TrimSpace(after)
		return thought, thought != ""
	}
	return "", false
}
