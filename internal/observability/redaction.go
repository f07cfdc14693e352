package observability

import "strings"

// RedactionToken replaces a value that must not reach the log sink
// verbatim: every text value when payload logging is off, and any value
// under a sensitive key regardless of that setting.
const RedactionToken = "[REDACTED]"

// logArrayLimit bounds how many elements of a list-shaped payload field
// are logged before truncation.
const logArrayLimit = 50

var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"bearer":        {},
	"cookie":        {},
	"email":         {},
	"jwt":           {},
	"password":      {},
	"phone":         {},
	"secret":        {},
	"session":       {},
	"set_cookie":    {},
	"token":         {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
}

// RedactText replaces s with RedactionToken unless enabled is true. There
// is no partial/PII-detector mode; enabled is the only knob.
func RedactText(s string, enabled bool) string {
	if enabled {
		return s
	}
	return RedactionToken
}

func truncateList(items []any, limit int) ([]any, bool) {
	if limit <= 0 {
		return nil, len(items) > 0
	}
	if len(items) <= limit {
		return items, false
	}
	return items[:limit], true
}

// redactValue walks an arbitrary JSON value, replacing any value under a
// key in sensitiveKeys and text leaves per RedactText.
func redactValue(value any, enabled bool) any {
	switch v := value.(type) {
	case string:
		return RedactText(v, enabled)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item, enabled)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if _, sensitive := sensitiveKeys[normalizeKey(key)]; sensitive {
				out[key] = RedactionToken
				continue
			}
			out[key] = redactValue(item, enabled)
		}
		return out
	default:
		return v
	}
}

// RedactGenericPayload applies RedactText to every string leaf of an
// arbitrary map[string]any payload and always redacts sensitive keys (used for logging raw upstream request/response
// bodies that don't fit one of the more specific shapes below), marking
// truncation when a list field exceeds logArrayLimit.
func RedactGenericPayload(payload map[string]any, enabled bool) map[string]any {
	redacted, truncated := redactGenericValue(payload, enabled)
	out, _ := redacted.(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	if truncated {
		out["payload_truncated"] = true
	}
	return out
}

func redactGenericValue(value any, enabled bool) (any, bool) {
	switch v := value.(type) {
	case string:
		return RedactText(v, enabled), false
	case []any:
		items, truncated := truncateList(v, logArrayLimit)
		out := make([]any, len(items))
		for i, item := range items {
			redactedItem, itemTruncated := redactGenericValue(item, enabled)
			out[i] = redactedItem
			truncated = truncated || itemTruncated
		}
		return out, truncated
	case map[string]any:
		out := make(map[string]any, len(v))
		truncated := false
		for key, item := range v {
			if _, sensitive := sensitiveKeys[normalizeKey(key)]; sensitive {
				out[key] = RedactionToken
				continue
			}
			redactedItem, itemTruncated := redactGenericValue(item, enabled)
			out[key] = redactedItem
			truncated = truncated || itemTruncated
		}
		return out, truncated
	default:
		return v, false
	}
}

// RedactAnthropicResponse redacts the text of "text" content blocks and the
// input of "tool_use" blocks in an Anthropic Messages response, logged
// only when an upstream round trip needs tracing.
func RedactAnthropicResponse(payload map[string]any, enabled bool) map[string]any {
	redacted := cloneTop(payload)
	content, ok := redacted["content"].([]any)
	if !ok {
		return redacted
	}
	updated := make([]any, len(content))
	for i, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok {
			updated[i] = raw
			continue
		}
		out := cloneTop(block)
		switch out["type"] {
		case "text":
			if text, ok := out["text"].(string); ok {
				out["text"] = RedactText(text, enabled)
			}
		case "tool_use":
			if input, ok := out["input"]; ok {
				out["input"] = redactValue(input, enabled)
			}
		}
		updated[i] = out
	}
	redacted["content"] = updated
	return redacted
}

// RedactOpenAIError redacts an upstream OpenAI-shaped error envelope's
// error.message and error.param before it reaches a log line.
func RedactOpenAIError(payload map[string]any, enabled bool) map[string]any {
	redacted := cloneTop(payload)
	errObj, ok := redacted["error"].(map[string]any)
	if !ok {
		return redacted
	}
	out := cloneTop(errObj)
	if msg, ok := out["message"].(string); ok {
		out["message"] = RedactText(msg, enabled)
	}
	if param, ok := out["param"].(string); ok {
		out["param"] = RedactText(param, enabled)
	}
	redacted["error"] = out
	return redacted
}

// RedactMessagesRequest redacts an Anthropic Messages request body:
// system prompt, message content text/tool_use input/tool_result content,
// and tool definitions' name/description/input_schema.
func RedactMessagesRequest(payload map[string]any, enabled bool) map[string]any {
	redacted := cloneTop(payload)

	switch system := payload["system"].(type) {
	case []any:
		blocks, truncated := redactTextBlocks(system, enabled)
		redacted["system"] = blocks
		if truncated {
			redacted["payload_truncated"] = true
		}
	case string:
		redacted["system"] = RedactText(system, enabled)
	}

	if messages, ok := payload["messages"].([]any); ok {
		messages, truncated := truncateList(messages, logArrayLimit)
		if truncated {
			redacted["payload_truncated"] = true
		}
		updated := make([]any, len(messages))
		for i, raw := range messages {
			msg, ok := raw.(map[string]any)
			if !ok {
				updated[i] = raw
				continue
			}
			out := cloneTop(msg)
			switch content := msg["content"].(type) {
			case []any:
				blocks, contentTruncated := redactTextBlocks(content, enabled)
				out["content"] = blocks
				if contentTruncated {
					redacted["payload_truncated"] = true
				}
			case string:
				out["content"] = RedactText(content, enabled)
			}
			updated[i] = out
		}
		redacted["messages"] = updated
	}

	if tools, ok := payload["tools"].([]any); ok {
		tools, truncated := truncateList(tools, logArrayLimit)
		if truncated {
			redacted["payload_truncated"] = true
		}
		updated := make([]any, len(tools))
		for i, raw := range tools {
			tool, ok := raw.(map[string]any)
			if !ok {
				updated[i] = raw
				continue
			}
			out := cloneTop(tool)
			if name, ok := out["name"].(string); ok {
				out["name"] = RedactText(name, enabled)
			}
			if desc, ok := out["description"].(string); ok {
				out["description"] = RedactText(desc, enabled)
			}
			if schema, ok := out["input_schema"]; ok {
				out["input_schema"] = redactValue(schema, enabled)
			}
			if params, ok := out["parameters"]; ok {
				out["parameters"] = redactValue(params, enabled)
			}
			updated[i] = out
		}
		redacted["tools"] = updated
	}

	return redacted
}

func redactTextBlocks(blocks []any, enabled bool) ([]any, bool) {
	blocks, truncated := truncateList(blocks, logArrayLimit)
	out := make([]any, len(blocks))
	for i, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			out[i] = raw
			continue
		}
		updated := cloneTop(block)
		switch updated["type"] {
		case "text":
			if text, ok := updated["text"].(string); ok {
				updated["text"] = RedactText(text, enabled)
			}
		case "tool_use":
			if input, ok := updated["input"]; ok {
				updated["input"] = redactValue(input, enabled)
			}
		case "tool_result":
			switch content := block["content"].(type) {
			case []any:
				redactedContent, contentTruncated := redactTextBlocks(content, enabled)
				updated["content"] = redactedContent
				truncated = truncated || contentTruncated
			case string:
				updated["content"] = RedactText(content, enabled)
			}
		}
		out[i] = updated
	}
	return out, truncated
}

// SummarizeMessagesRequest reduces a Messages request to counts safe to
// log even with payload logging disabled: message/tool-definition counts
// and a per-tool-name tool_use tally.
func SummarizeMessagesRequest(payload map[string]any) map[string]any {
	messages, _ := payload["messages"].([]any)
	tools, _ := payload["tools"].([]any)

	toolUseCount := 0
	toolResultCount := 0
	toolNameCounts := map[string]int{}

	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, rawBlock := range content {
			block, ok := rawBlock.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "tool_use":
				toolUseCount++
				if name, ok := block["name"].(string); ok && name != "" {
					toolNameCounts[name]++
				}
			case "tool_result":
				toolResultCount++
			}
		}
	}

	return map[string]any{
		"message_count":         len(messages),
		"tool_definition_count": len(tools),
		"tool_use_count":        toolUseCount,
		"tool_result_count":     toolResultCount,
		"tool_name_counts":      toolNameCounts,
	}
}

func cloneTop(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
