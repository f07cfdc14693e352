package streamtranslate

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mkurz/claudex/internal/schema"
)

func fmtToolCallID(index int) string {
	return fmt.Sprintf("tool_call_%d", index)
}

func fmtHarmonyToolID(index int) string {
	return fmt.Sprintf("harmony_tool_%d", index)
}

// formatSSE renders one Anthropic SSE frame: "event: <name>\ndata:
// <json>\n\n", matching the Anthropic Messages API's literal framing.
func formatSSE(event string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("streamtranslate: marshal %s frame: %w", event, err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, body), nil
}

func emitContentBlockStart(index int, block any) (string, error) {
	return formatSSE("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         index,
		"content_block": block,
	})
}

func emitContentBlockStop(index int) (string, error) {
	return formatSSE("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": index,
	})
}

func emitTextDelta(index int, text string) (string, error) {
	return formatSSE("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

func emitInputJSONDelta(index int, partialJSON string) (string, error) {
	return formatSSE("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": partialJSON},
	})
}

// messageStartPayload builds the initial Anthropic message envelope,
// seeding usage from the upstream response if present, otherwise from the
// caller-supplied pre-computed token count.
func messageStartPayload(responseID, model string, upstreamUsage *OpenAIUsageLike, initialUsage schema.Usage) map[string]any {
	usage := initialUsage
	if upstreamUsage != nil {
		usage = normalizeUsage(upstreamUsage)
	}
	if responseID == "" {
		responseID = "msg_" + uuid.NewString()
	}
	message := map[string]any{
		"id":            responseID,
		"type":          "message",
		"role":          "assistant",
		"content":       []any{},
		"stop_reason":   nil,
		"stop_sequence": nil,
		"usage":         usage,
	}
	if model != "" {
		message["model"] = model
	}
	return map[string]any{"type": "message_start", "message": message}
}

func normalizeUsage(u *OpenAIUsageLike) schema.Usage {
	if u == nil {
		return schema.Usage{}
	}
	uncached := u.InputTokens - u.CachedTokens
	if uncached < 0 {
		uncached = 0
	}
	return schema.Usage{
		CacheCreationInputTokens: 0,
		CacheReadInputTokens:     u.CachedTokens,
		InputTokens:              uncached,
		OutputTokens:             u.OutputTokens,
	}
}

func webSearchInputFromAction(action *schema.WebSearchAction) map[string]any {
	if action == nil || action.Query == "" {
		return map[string]any{}
	}
	return map[string]any{"query": action.Query}
}

func webSearchResultsFromAction(action *schema.WebSearchAction) []schema.WebSearchResult {
	if action == nil {
		return nil
	}
	var results []schema.WebSearchResult
	for _, src := range action.Sources {
		if src.URL == "" {
			continue
		}
		results = append(results, schema.WebSearchResult{
			Type:    "web_search_result",
			URL:     src.URL,
			Title:   src.Title,
			PageAge: src.PageAge,
		})
	}
	return results
}
