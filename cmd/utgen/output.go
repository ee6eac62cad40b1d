package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/martinemde/utgen/agentloop"
)

func messageHeader(m agentloop.Message) string {
	switch m.Kind {
	case agentloop.MessageSystem:
		return "SYSTEM"
	case agentloop.MessageUser:
		return "USER"
	case agentloop.MessageAssistant:
		return "AI"
	case agentloop.MessageToolResult:
		return "TOOL:" + m.ToolName
	default:
		return strings.ToUpper(string(m.Kind))
	}
}

// printTranscript writes every message under a "--- KIND ---" header.
func printTranscript(w io.Writer, t *agentloop.Transcript) {
	for _, m := range t.Messages() {
		fmt.Fprintf(w, "\n--- %s ---\n%s\n", messageHeader(m), m.Content)
		for _, req := range m.Requests {
			args := strings.TrimSpace(string(req.Arguments))
			if args == "" || args == "null" {
				args = "{}"
			}
			fmt.Fprintf(w, "[tool call %s] %s %s\n", req.ID, req.Name, args)
		}
	}
}

func printEvent(w io.Writer, ev agentloop.Event) {
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-24s", ev.State, ev.Kind)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, ev.Data[k])
	}
	fmt.Fprintln(w, sb.String())
}
