package mapping

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mkurz/claudex/internal/schema"
)

// DeriveStopReason implements the shared stop-reason rule used by both
// streaming and non-streaming responses: any function_call output forces
// tool_use; otherwise an incomplete status maps max_output_tokens/
// content_filter to max_tokens/refusal; otherwise end_turn.
func DeriveStopReason(resp *schema.OpenAIResponse) string {
	for _, item := range resp.Output {
		if item.Type == "function_call" {
			return "tool_use"
		}
	}
	if resp.Status == "incomplete" && resp.IncompleteDetails != nil {
		switch resp.IncompleteDetails.Reason {
		case "max_output_tokens":
			return "max_tokens"
		case "content_filter":
			return "refusal"
		}
	}
	return "end_turn"
}

// NormalizeUsage converts OpenAI usage counters to Anthropic usage
// semantics: cache_creation is always 0, cache_read is the upstream's
// cached-token count, input_tokens is the uncached remainder (never
// negative), output_tokens passes through.
func NormalizeUsage(u *schema.OpenAIUsage) schema.Usage {
	input, output, cached := u.Resolve()
	uncached := input - cached
	if uncached < 0 {
		uncached = 0
	}
	return schema.Usage{
		CacheCreationInputTokens: 0,
		CacheReadInputTokens:     cached,
		InputTokens:              uncached,
		OutputTokens:             output,
	}
}

func parseToolInput(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage(`{}`)
	}
	var generic any
	if err := json.Unmarshal([]byte(arguments), &generic); err != nil {
		return json.RawMessage(`{}`)
	}
	if _, ok := generic.(map[string]any); !ok {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(arguments)
}

// ResponseMapper converts a completed OpenAI Responses result into an
// Anthropic message response (C4, non-streaming half).
type ResponseMapper struct{}

func NewResponseMapper() *ResponseMapper { return &ResponseMapper{} }

// ToAnthropic maps a completed OpenAI Responses result to an Anthropic
// non-streaming message response.
func (ResponseMapper) ToAnthropic(resp *schema.OpenAIResponse) *schema.MessageResponse {
	var blocks []schema.ContentBlock

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type != "output_text" {
					continue
				}
				block := schema.ContentBlock{Type: "text", Text: part.Text}
				for _, ann := range part.Annotations {
					if ann.Type != "url_citation" {
						continue
					}
					citedText := sliceCitedText(part.Text, ann.StartIndex, ann.EndIndex)
					block.Annotations = append(block.Annotations, schema.Annotation{
						Type:       "web_search_result_location",
						URL:        ann.URL,
						Title:      ann.Title,
						CitedText:  citedText,
						StartIndex: ann.StartIndex,
						EndIndex:   ann.EndIndex,
					})
				}
				blocks = append(blocks, block)
			}
		case "function_call":
			blocks = append(blocks, schema.ContentBlock{
				Type:  "tool_use",
				ID:    item.CallID,
				Name:  item.Name,
				Input: parseToolInput(item.Arguments),
			})
		case "web_search_call":
			query := ""
			var sources []schema.WebSearchResult
			if item.Action != nil {
				query = item.Action.Query
				for _, src := range item.Action.Sources {
					if src.URL == "" {
						continue
					}
					sources = append(sources, schema.WebSearchResult{
						Type:    "web_search_result",
						URL:     src.URL,
						Title:   src.Title,
						PageAge: src.PageAge,
					})
				}
			}
			inputJSON, _ := json.Marshal(map[string]string{"query": query})
			useBlock := schema.ContentBlock{Type: "server_tool_use", ID: item.ID, Name: "web_search", Input: inputJSON}
			resultBlock := schema.ContentBlock{Type: "web_search_tool_result", ToolUseID: item.ID}
			resultBlock.SetWebSearchResults(sources)
			blocks = append(blocks, useBlock, resultBlock)
		}
	}

	if blocks == nil {
		blocks = []schema.ContentBlock{}
	}

	id := resp.ID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}

	return &schema.MessageResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		StopReason: DeriveStopReason(resp),
		Usage:      NormalizeUsage(resp.Usage),
	}
}

func sliceCitedText(text string, start, end int) string {
	if start < 0 || end < 0 || start > end || end > len(text) {
		return ""
	}
	return text[start:end]
}
