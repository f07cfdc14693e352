package mapping

import (
	"encoding/json"
	"testing"

	"github.com/mkurz/claudex/internal/modelmap"
	"github.com/mkurz/claudex/internal/schema"
)

func newTestMapper(t *testing.T) *RequestMapper {
	t.Helper()
	resolver, err := modelmap.NewResolver(`{"claude-3-5-sonnet-latest":"gpt-4o"}`, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return NewRequestMapper(resolver)
}

func TestToOpenAISimpleTextMessage(t *testing.T) {
	m := newTestMapper(t)
	req := &schema.MessagesRequest{
		Model:    "claude-3-5-sonnet-latest",
		Messages: []schema.Message{{Role: "user", Content: schema.MessageContent{Text: "hello"}}},
	}

	out, err := m.ToOpenAI(req)
	if err != nil {
		t.Fatalf("ToOpenAI: %v", err)
	}
	if out.Model != "gpt-4o" {
		t.Fatalf("model = %q, want gpt-4o", out.Model)
	}
	if len(out.Input) != 1 || out.Input[0].Type != "message" || out.Input[0].Role != "user" {
		t.Fatalf("unexpected input items: %+v", out.Input)
	}
}

func TestToOpenAISystemStringBecomesInstructions(t *testing.T) {
	m := newTestMapper(t)
	req := &schema.MessagesRequest{
		Model:    "claude-3-5-sonnet-latest",
		System:   &schema.SystemField{Text: "You are terse."},
		Messages: []schema.Message{{Role: "user", Content: schema.MessageContent{Text: "hi"}}},
	}

	out, err := m.ToOpenAI(req)
	if err != nil {
		t.Fatalf("ToOpenAI: %v", err)
	}
	if out.Instructions != "You are terse." {
		t.Fatalf("instructions = %q", out.Instructions)
	}
}

func TestToOpenAIToolUseAndResultSplitAroundText(t *testing.T) {
	m := newTestMapper(t)
	toolInput, _ := json.Marshal(map[string]any{"b": 2, "a": 1})
	req := &schema.MessagesRequest{
		Model: "claude-3-5-sonnet-latest",
		Messages: []schema.Message{
			{
				Role: "assistant",
				Content: schema.MessageContent{Blocks: []schema.ContentBlock{
					{Type: "text", Text: "let me check"},
					{Type: "tool_use", ID: "call_1", Name: "lookup", Input: toolInput},
				}},
			},
			{
				Role: "user",
				Content: schema.MessageContent{Blocks: []schema.ContentBlock{
					{Type: "tool_result", ToolUseID: "call_1", Content: json.RawMessage(`"42"`)},
				}},
			},
		},
	}

	out, err := m.ToOpenAI(req)
	if err != nil {
		t.Fatalf("ToOpenAI: %v", err)
	}
	if len(out.Input) != 3 {
		t.Fatalf("got %d input items, want 3 (text, function_call, function_call_output): %+v", len(out.Input), out.Input)
	}
	if out.Input[0].Type != "message" {
		t.Fatalf("item 0 type = %q, want message", out.Input[0].Type)
	}
	if out.Input[1].Type != "function_call" || out.Input[1].CallID != "call_1" || out.Input[1].Name != "lookup" {
		t.Fatalf("item 1 = %+v, want function_call/call_1/lookup", out.Input[1])
	}
	if out.Input[1].Arguments != `{"a":1,"b":2}` {
		t.Fatalf("arguments = %q, want sorted-key JSON", out.Input[1].Arguments)
	}
	if out.Input[2].Type != "function_call_output" || out.Input[2].CallID != "call_1" || out.Input[2].Output != "42" {
		t.Fatalf("item 2 = %+v, want function_call_output/call_1/42", out.Input[2])
	}
}

func TestToOpenAIWebSearchToolMapsToBuiltinType(t *testing.T) {
	m := newTestMapper(t)
	maxUses := 3
	req := &schema.MessagesRequest{
		Model: "claude-3-5-sonnet-latest",
		Messages: []schema.Message{
			{Role: "user", Content: schema.MessageContent{Text: "search the web"}},
		},
		Tools: []schema.ToolDef{
			{Type: "web_search_20250305", Name: "web_search", MaxUses: &maxUses},
		},
	}

	out, err := m.ToOpenAI(req)
	if err != nil {
		t.Fatalf("ToOpenAI: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Type != "web_search" {
		t.Fatalf("tools = %+v, want a single web_search tool", out.Tools)
	}
	if out.MaxToolCalls == nil || *out.MaxToolCalls != 3 {
		t.Fatalf("max_tool_calls = %v, want 3", out.MaxToolCalls)
	}
	if len(out.Include) == 0 || out.Include[0] != "web_search_call.action.sources" {
		t.Fatalf("include = %v, want web_search_call.action.sources", out.Include)
	}
}

func TestToOpenAIFunctionToolUsesInputSchema(t *testing.T) {
	m := newTestMapper(t)
	req := &schema.MessagesRequest{
		Model:    "claude-3-5-sonnet-latest",
		Messages: []schema.Message{{Role: "user", Content: schema.MessageContent{Text: "hi"}}},
		Tools: []schema.ToolDef{
			{Name: "get_weather", Description: "look up weather", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}

	out, err := m.ToOpenAI(req)
	if err != nil {
		t.Fatalf("ToOpenAI: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Type != "function" || out.Tools[0].Name != "get_weather" {
		t.Fatalf("tools = %+v", out.Tools)
	}
	if string(out.Tools[0].Parameters) != `{"type":"object"}` {
		t.Fatalf("parameters = %s", out.Tools[0].Parameters)
	}
}

func TestToOpenAIMaxTokensBelowMinimumDropped(t *testing.T) {
	m := newTestMapper(t)
	tiny := 8
	req := &schema.MessagesRequest{
		Model:     "claude-3-5-sonnet-latest",
		Messages:  []schema.Message{{Role: "user", Content: schema.MessageContent{Text: "hi"}}},
		MaxTokens: &tiny,
	}

	out, err := m.ToOpenAI(req)
	if err != nil {
		t.Fatalf("ToOpenAI: %v", err)
	}
	if out.MaxOutputTokens != nil {
		t.Fatalf("max_output_tokens = %v, want nil for a below-minimum value", out.MaxOutputTokens)
	}
}

func TestToOpenAIUnsupportedContentBlockTypeIsInvalidRequest(t *testing.T) {
	m := newTestMapper(t)
	req := &schema.MessagesRequest{
		Model: "claude-3-5-sonnet-latest",
		Messages: []schema.Message{
			{Role: "user", Content: schema.MessageContent{Blocks: []schema.ContentBlock{{Type: "image"}}}},
		},
	}

	_, err := m.ToOpenAI(req)
	if err == nil {
		t.Fatal("expected an error for an unsupported content block type")
	}
	if _, ok := err.(*InvalidRequestError); !ok {
		t.Fatalf("err = %T, want *InvalidRequestError", err)
	}
}
