package caption

import (
	"strings"

	"github.com/elliotchance/pie/v2"
)

type Type string

const (
	Speech   Type = "speech"
	ToolCall Type = "tool_call"
)

// Classifier decides whether an increment is narration or tool-execution
// commentary. It is a best-effort lexical check, not a parser; swap it out
// to extend the marker set.
type Classifier func(content string) Type

// DefaultMarkers are the execution-status phrases that mark a chunk as tool
// commentary.
var DefaultMarkers = []string{
	"Executing:",
	"Function result:",
	"Function failed:",
	"Function execution error:",
	"Thinking...",
	"Processing results...",
}

func DefaultClassifier(content string) Type {
	hasMarker := pie.Any(DefaultMarkers, func(marker string) bool {
		return strings.Contains(content, marker)
	})
	if hasMarker {
		return ToolCall
	}

	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") &&
		strings.Contains(content, `"name"`) &&
		strings.Contains(content, `"parameters"`) {
		return ToolCall
	}

	return Speech
}
