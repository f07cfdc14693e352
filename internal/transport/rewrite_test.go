package transport

import "testing"

func TestRewriteForOAuthModeDropsTokenFieldsAndForcesDefaults(t *testing.T) {
	payload := map[string]any{
		"max_output_tokens": 1024,
		"max_tokens":        1024,
		"max_tool_calls":    5,
		"store":             true,
		"stream":            false,
		"input":             []any{},
	}
	rewriteForOAuthMode(payload, "be concise")

	for _, key := range []string{"max_output_tokens", "max_tokens", "max_tool_calls"} {
		if _, ok := payload[key]; ok {
			t.Fatalf("expected %q to be dropped", key)
		}
	}
	if payload["store"] != false {
		t.Fatalf("store = %v, want false", payload["store"])
	}
	if payload["stream"] != true {
		t.Fatalf("stream = %v, want true", payload["stream"])
	}
	if payload["instructions"] != "be concise" {
		t.Fatalf("instructions = %v, want backfilled default", payload["instructions"])
	}
}

func TestRewriteForOAuthModeKeepsExistingInstructions(t *testing.T) {
	payload := map[string]any{"instructions": "custom", "input": []any{}}
	rewriteForOAuthMode(payload, "default instructions")
	if payload["instructions"] != "custom" {
		t.Fatalf("instructions = %v, want custom to be preserved", payload["instructions"])
	}
}

func TestRewriteForOAuthModeRewritesAssistantInputTextToOutputText(t *testing.T) {
	payload := map[string]any{
		"input": []any{
			map[string]any{
				"type": "message",
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "input_text", "text": "hello"},
				},
			},
			map[string]any{
				"type": "message",
				"role": "user",
				"content": []any{
					map[string]any{"type": "input_text", "text": "hi"},
				},
			},
		},
	}
	rewriteForOAuthMode(payload, "")

	items := payload["input"].([]any)
	assistant := items[0].(map[string]any)
	span := assistant["content"].([]any)[0].(map[string]any)
	if span["type"] != "output_text" {
		t.Fatalf("assistant span type = %v, want output_text", span["type"])
	}

	user := items[1].(map[string]any)
	userSpan := user["content"].([]any)[0].(map[string]any)
	if userSpan["type"] != "input_text" {
		t.Fatalf("user span type = %v, want unchanged input_text", userSpan["type"])
	}
}

func TestNormalizeInputCollapsesToSingleUserRoleWithPrefix(t *testing.T) {
	payload := map[string]any{
		"input": []any{
			map[string]any{
				"type": "message",
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "output_text", "text": "answer"},
				},
			},
		},
	}
	out := normalizeInput(payload)
	items := out["input"].([]any)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	item := items[0].(map[string]any)
	if item["role"] != "user" {
		t.Fatalf("role = %v, want user", item["role"])
	}
	span := item["content"].([]any)[0].(map[string]any)
	if span["type"] != "input_text" {
		t.Fatalf("span type = %v, want input_text", span["type"])
	}
	if span["text"] != "Assistant: answer" {
		t.Fatalf("text = %q, want prefixed transcript", span["text"])
	}
}

func TestCollapseInputJoinsFullTranscriptIntoOneMessage(t *testing.T) {
	payload := map[string]any{
		"input": []any{
			map[string]any{
				"type": "message", "role": "user",
				"content": []any{map[string]any{"type": "input_text", "text": "hi"}},
			},
			map[string]any{
				"type": "message", "role": "assistant",
				"content": []any{map[string]any{"type": "output_text", "text": "hello"}},
			},
		},
	}
	out := collapseInput(payload)
	items := out["input"].([]any)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	span := items[0].(map[string]any)["content"].([]any)[0].(map[string]any)
	want := "User: hi\nAssistant: hello"
	if span["text"] != want {
		t.Fatalf("text = %q, want %q", span["text"], want)
	}
}

func TestCapitalizeRoleHandlesEmptyAndLowercase(t *testing.T) {
	if capitalizeRole("") != "User" {
		t.Fatalf("empty role should default to User")
	}
	if capitalizeRole("assistant") != "Assistant" {
		t.Fatalf("got %q", capitalizeRole("assistant"))
	}
}
