package streamtranslate

import (
	"encoding/json"
	"regexp"
)

// harmonyTagRE matches a Harmony-format `<|...|>` delimiter.
var harmonyTagRE = regexp.MustCompile(`<\|[^>]+?\|>`)

// harmonyToolCall is one parsed in-band tool call found inside assistant
// text delimited by Harmony tags.
type harmonyToolCall struct {
	Name      string
	Arguments map[string]any
}

// extractJSONObjects scans text for balanced top-level `{...}` spans,
// depth-counted and string-aware (skipping braces inside double-quoted
// strings, respecting backslash escapes), tolerant of unbalanced or
// non-object JSON elsewhere in the text.
func extractJSONObjects(text string) []string {
	var objects []string
	depth := 0
	start := -1
	inString := false
	escape := false

	runes := []rune(text)
	for i, ch := range runes {
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objects = append(objects, string(runes[start:i+1]))
					start = -1
				}
			}
		}
	}
	return objects
}

// parseHarmonyToolCalls reports whether text contains a Harmony tag and,
// if so, the tool calls successfully parsed out of it. Non-object or
// malformed JSON fragments, and objects missing a string "name", are
// skipped silently.
func parseHarmonyToolCalls(text string) (hasHarmony bool, calls []harmonyToolCall) {
	if !harmonyTagRE.MatchString(text) {
		return false, nil
	}

	for _, raw := range extractJSONObjects(text) {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			continue
		}
		name, ok := parsed["name"].(string)
		if !ok || name == "" {
			continue
		}
		args, ok := parsed["arguments"].(map[string]any)
		if !ok {
			args = map[string]any{}
		}
		calls = append(calls, harmonyToolCall{Name: name, Arguments: args})
	}
	return true, calls
}
