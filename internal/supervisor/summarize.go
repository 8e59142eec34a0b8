package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"intercom/internal/model"
)

const maxSummaryLen = 120

// agentLine is the subset of an agent CLI's JSON stdout line this
// package understands; unrecognized shapes fall back to a raw text item.
type agentLine struct {
	Type  string `json:"type"`
	Tool  string `json:"tool"`
	Input string `json:"input"`
	Text  string `json:"text"`
}

// toolSummary renders a short, human-readable description of a tool
// invocation for the operator-facing feedback stream.
var toolSummary = map[string]func(input string) string{
	"Read":  func(in string) string { return "reading " + in },
	"Write": func(in string) string { return "writing " + in },
	"Edit":  func(in string) string { return "editing " + in },
	"Bash":  func(in string) string { return "running: " + truncate(in, 80) },
	"Grep":  func(in string) string { return "searching for " + truncate(in, 60) },
	"Glob":  func(in string) string { return "listing " + in },
}

// Summarize converts one line of agent stdout into a FeedbackItem,
// recognizing a JSON-tagged tool_use/text/turn shape and falling back
// to a plain text item for anything else.
func Summarize(line string) model.FeedbackItem {
	var parsed agentLine
	if err := json.Unmarshal([]byte(line), &parsed); err == nil && parsed.Type != "" {
		switch parsed.Type {
		case "tool_use":
			return model.FeedbackItem{Kind: model.FeedbackToolUse, Tool: parsed.Tool, Text: summarizeTool(parsed.Tool, parsed.Input)}
		case "turn":
			return model.FeedbackItem{Kind: model.FeedbackTurn, Text: truncate(parsed.Text, maxSummaryLen)}
		case "text":
			return model.FeedbackItem{Kind: model.FeedbackText, Text: truncate(parsed.Text, maxSummaryLen)}
		}
	}
	return model.FeedbackItem{Kind: model.FeedbackText, Text: truncate(line, maxSummaryLen)}
}

func summarizeTool(tool, input string) string {
	if fn, ok := toolSummary[tool]; ok {
		return truncate(fn(input), maxSummaryLen)
	}
	return truncate(fmt.Sprintf("%s(%s)", tool, input), maxSummaryLen)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-len("…")] + "…"
}
