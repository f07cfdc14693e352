package mapping

import (
	"encoding/json"
	"testing"

	"github.com/mkurz/claudex/internal/schema"
)

func TestDeriveStopReasonFunctionCallForcesToolUse(t *testing.T) {
	resp := &schema.OpenAIResponse{Output: []schema.OutputItem{{Type: "function_call"}}}
	if got := DeriveStopReason(resp); got != "tool_use" {
		t.Fatalf("got %q, want tool_use", got)
	}
}

func TestDeriveStopReasonIncompleteMaxOutputTokens(t *testing.T) {
	resp := &schema.OpenAIResponse{
		Status:            "incomplete",
		IncompleteDetails: &schema.IncompleteDetails{Reason: "max_output_tokens"},
	}
	if got := DeriveStopReason(resp); got != "max_tokens" {
		t.Fatalf("got %q, want max_tokens", got)
	}
}

func TestDeriveStopReasonIncompleteContentFilter(t *testing.T) {
	resp := &schema.OpenAIResponse{
		Status:            "incomplete",
		IncompleteDetails: &schema.IncompleteDetails{Reason: "content_filter"},
	}
	if got := DeriveStopReason(resp); got != "refusal" {
		t.Fatalf("got %q, want refusal", got)
	}
}

func TestDeriveStopReasonDefaultsToEndTurn(t *testing.T) {
	resp := &schema.OpenAIResponse{Status: "completed"}
	if got := DeriveStopReason(resp); got != "end_turn" {
		t.Fatalf("got %q, want end_turn", got)
	}
}

func TestNormalizeUsageSubtractsCachedFromInput(t *testing.T) {
	u := &schema.OpenAIUsage{
		InputTokens:        100,
		OutputTokens:       20,
		InputTokensDetails: &schema.InputTokenDetail{CachedTokens: 30},
	}
	got := NormalizeUsage(u)
	if got.CacheCreationInputTokens != 0 {
		t.Fatalf("cache_creation = %d, want 0", got.CacheCreationInputTokens)
	}
	if got.CacheReadInputTokens != 30 {
		t.Fatalf("cache_read = %d, want 30", got.CacheReadInputTokens)
	}
	if got.InputTokens != 70 {
		t.Fatalf("input_tokens = %d, want 70", got.InputTokens)
	}
	if got.OutputTokens != 20 {
		t.Fatalf("output_tokens = %d, want 20", got.OutputTokens)
	}
}

func TestNormalizeUsageNeverNegative(t *testing.T) {
	u := &schema.OpenAIUsage{InputTokens: 5, InputTokensDetails: &schema.InputTokenDetail{CachedTokens: 10}}
	got := NormalizeUsage(u)
	if got.InputTokens != 0 {
		t.Fatalf("input_tokens = %d, want 0 (clamped)", got.InputTokens)
	}
}

func TestNormalizeUsageLegacyFieldNames(t *testing.T) {
	u := &schema.OpenAIUsage{PromptTokens: 50, CompletionTokens: 10, PromptTokensDetails: &schema.InputTokenDetail{CachedTokens: 5}}
	got := NormalizeUsage(u)
	if got.InputTokens != 45 || got.OutputTokens != 10 || got.CacheReadInputTokens != 5 {
		t.Fatalf("got %+v", got)
	}
}

func TestToAnthropicMessageTextWithCitation(t *testing.T) {
	resp := &schema.OpenAIResponse{
		Status: "completed",
		Output: []schema.OutputItem{
			{
				Type: "message",
				Content: []schema.OutputContentPart{
					{
						Type: "output_text",
						Text: "The sky is blue.",
						Annotations: []schema.OutputCitation{
							{Type: "url_citation", URL: "https://example.com", StartIndex: 4, EndIndex: 7},
						},
					},
				},
			},
		},
		Usage: &schema.OpenAIUsage{InputTokens: 10, OutputTokens: 5},
	}

	got := NewResponseMapper().ToAnthropic(resp)
	if len(got.Content) != 1 || got.Content[0].Type != "text" {
		t.Fatalf("content = %+v", got.Content)
	}
	if len(got.Content[0].Annotations) != 1 {
		t.Fatalf("annotations = %+v", got.Content[0].Annotations)
	}
	ann := got.Content[0].Annotations[0]
	if ann.Type != "web_search_result_location" || ann.CitedText != "sky" {
		t.Fatalf("annotation = %+v, want cited_text=sky", ann)
	}
	if got.StopReason != "end_turn" {
		t.Fatalf("stop_reason = %q", got.StopReason)
	}
}

func TestToAnthropicFunctionCallBecomesToolUse(t *testing.T) {
	resp := &schema.OpenAIResponse{
		Output: []schema.OutputItem{
			{Type: "function_call", CallID: "call_1", Name: "lookup", Arguments: `{"q":"weather"}`},
		},
	}

	got := NewResponseMapper().ToAnthropic(resp)
	if len(got.Content) != 1 || got.Content[0].Type != "tool_use" {
		t.Fatalf("content = %+v", got.Content)
	}
	if got.Content[0].ID != "call_1" || got.Content[0].Name != "lookup" {
		t.Fatalf("tool_use block = %+v", got.Content[0])
	}
	var args map[string]string
	if err := json.Unmarshal(got.Content[0].Input, &args); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if args["q"] != "weather" {
		t.Fatalf("args = %+v", args)
	}
	if got.StopReason != "tool_use" {
		t.Fatalf("stop_reason = %q, want tool_use", got.StopReason)
	}
}

func TestToAnthropicFunctionCallMalformedArgumentsFallsBackToEmptyObject(t *testing.T) {
	resp := &schema.OpenAIResponse{
		Output: []schema.OutputItem{{Type: "function_call", CallID: "call_1", Name: "lookup", Arguments: "not json"}},
	}
	got := NewResponseMapper().ToAnthropic(resp)
	if string(got.Content[0].Input) != "{}" {
		t.Fatalf("input = %s, want {}", got.Content[0].Input)
	}
}

func TestToAnthropicWebSearchCallProducesUseAndResultBlocks(t *testing.T) {
	resp := &schema.OpenAIResponse{
		Output: []schema.OutputItem{
			{
				Type: "web_search_call",
				ID:   "ws_1",
				Action: &schema.WebSearchAction{
					Query:   "weather today",
					Sources: []schema.WebSearchSource{{URL: "https://example.com", Title: "Weather"}},
				},
			},
		},
	}

	got := NewResponseMapper().ToAnthropic(resp)
	if len(got.Content) != 2 {
		t.Fatalf("content = %+v, want 2 blocks", got.Content)
	}
	if got.Content[0].Type != "server_tool_use" || got.Content[0].Name != "web_search" {
		t.Fatalf("block 0 = %+v", got.Content[0])
	}
	if got.Content[1].Type != "web_search_tool_result" || got.Content[1].ToolUseID != "ws_1" {
		t.Fatalf("block 1 = %+v", got.Content[1])
	}
	results, err := got.Content[1].WebSearchResultsValue()
	if err != nil || len(results) != 1 || results[0].URL != "https://example.com" {
		t.Fatalf("results = %+v, err = %v", results, err)
	}
}

func TestToAnthropicEmptyOutputProducesEmptyContentArray(t *testing.T) {
	resp := &schema.OpenAIResponse{}
	got := NewResponseMapper().ToAnthropic(resp)
	if got.Content == nil || len(got.Content) != 0 {
		t.Fatalf("content = %v, want non-nil empty slice", got.Content)
	}
}
