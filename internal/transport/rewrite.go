package transport

// rewriteForOAuthMode applies the OAuth-mode payload rewrites the Codex
// backend requires, in place: drop fields the backend rejects, force
// store/stream defaults, backfill instructions, and rewrite assistant
// output spans from input_text to output_text. payload is the
// already-marshaled request body (map[string]any), produced by
// internal/mapping and re-decoded so the transport can apply
// backend-specific transforms without internal/mapping knowing about
// transport modes.
func rewriteForOAuthMode(payload map[string]any, defaultInstructions string) {
	delete(payload, "max_output_tokens")
	delete(payload, "max_tokens")
	delete(payload, "max_tool_calls")

	payload["store"] = false
	payload["stream"] = true

	if s, ok := payload["instructions"].(string); !ok || s == "" {
		if defaultInstructions != "" {
			payload["instructions"] = defaultInstructions
		}
	}

	items, ok := payload["input"].([]any)
	if !ok {
		return
	}
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if item["type"] != nil && item["type"] != "message" {
			continue
		}
		if item["role"] != "assistant" {
			continue
		}
		rewriteAssistantSpans(item)
	}
}

func rewriteAssistantSpans(item map[string]any) {
	content, ok := item["content"].([]any)
	if !ok {
		return
	}
	for _, raw := range content {
		span, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if span["type"] == "input_text" {
			span["type"] = "output_text"
		}
	}
}

// normalizeInput collapses every message item to role=user with all spans
// coerced to input_text, prefixing non-user content with "<Role>: " - the
// first, less conservative LM-Studio fallback candidate.
func normalizeInput(payload map[string]any) map[string]any {
	out := cloneShallow(payload)
	items, ok := payload["input"].([]any)
	if !ok {
		return out
	}

	normalized := make([]any, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			normalized = append(normalized, raw)
			continue
		}
		if item["type"] != nil && item["type"] != "message" {
			normalized = append(normalized, item)
			continue
		}
		role, _ := item["role"].(string)
		prefix := ""
		if role != "" && role != "user" {
			prefix = capitalizeRole(role) + ": "
		}
		normalized = append(normalized, map[string]any{
			"type": "message",
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_text", "text": prefix + renderMessageText(item)},
			},
		})
	}
	out["input"] = normalized
	return out
}

// collapseInput concatenates the entire message history into one transcript
// string and issues a single user message - the second, more conservative
// LM-Studio fallback candidate.
func collapseInput(payload map[string]any) map[string]any {
	out := cloneShallow(payload)
	items, ok := payload["input"].([]any)
	if !ok {
		return out
	}

	var transcript []string
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if item["type"] != nil && item["type"] != "message" {
			continue
		}
		role, _ := item["role"].(string)
		transcript = append(transcript, capitalizeRole(role)+": "+renderMessageText(item))
	}

	out["input"] = []any{
		map[string]any{
			"type": "message",
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_text", "text": joinLines(transcript)},
			},
		},
	}
	return out
}

func renderMessageText(item map[string]any) string {
	content, ok := item["content"].([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, raw := range content {
		span, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := span["text"].(string); ok {
			parts = append(parts, text)
		}
	}
	return joinLines(parts)
}

func capitalizeRole(role string) string {
	if role == "" {
		return "User"
	}
	b := []byte(role)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

func cloneShallow(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
