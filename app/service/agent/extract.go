package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("```(?:json)?\\s*\\n?\\s*(\\{[\\s\\S]*?\\})\\s*\\n?\\s*```")
	inlineCallRe  = regexp.MustCompile(`\{[^{}]*"name"\s*:\s*"[^"]+"[^{}]*"parameters"\s*:\s*\{[^{}]*\}[^{}]*\}`)
)

// ExtractFunctionCalls finds function-call directives in a completed model
// response. Three strategies, first non-empty result wins: fenced code
// blocks, the whole trimmed response as one JSON object, then an inline
// regex scan. Candidates that fail to parse are skipped, never fatal.
func ExtractFunctionCalls(response string) []FunctionCall {
	var calls []FunctionCall

	for _, match := range fencedBlockRe.FindAllStringSubmatch(response, -1) {
		if call, ok := parseCall(match[1]); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) > 0 {
		return calls
	}

	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		if call, ok := parseCall(trimmed); ok {
			return []FunctionCall{call}
		}
	}

	for _, match := range inlineCallRe.FindAllString(response, -1) {
		if call, ok := parseCall(match); ok {
			calls = append(calls, call)
		}
	}

	return calls
}

func parseCall(candidate string) (FunctionCall, bool) {
	var call FunctionCall
	if err := json.Unmarshal([]byte(candidate), &call); err != nil {
		return FunctionCall{}, false
	}

	if call.Name == "" || call.Parameters == nil {
		return FunctionCall{}, false
	}

	return call, true
}
