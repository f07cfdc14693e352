package streamtranslate

import "testing"

func TestParseHarmonyToolCallsNoTagReturnsFalse(t *testing.T) {
	hasHarmony, calls := parseHarmonyToolCalls("just plain text")
	if hasHarmony || calls != nil {
		t.Fatalf("got (%v, %v), want (false, nil)", hasHarmony, calls)
	}
}

func TestParseHarmonyToolCallsExtractsNameAndArguments(t *testing.T) {
	text := `<|channel|>commentary<|message|>{"name":"get_weather","arguments":{"city":"nyc"}}<|call|>`
	hasHarmony, calls := parseHarmonyToolCalls(text)
	if !hasHarmony {
		t.Fatal("expected hasHarmony = true")
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "get_weather" {
		t.Fatalf("name = %q", calls[0].Name)
	}
	if calls[0].Arguments["city"] != "nyc" {
		t.Fatalf("arguments = %+v", calls[0].Arguments)
	}
}

func TestParseHarmonyToolCallsDefaultsMissingArgumentsToEmptyMap(t *testing.T) {
	text := `<|call|>{"name":"ping"}`
	hasHarmony, calls := parseHarmonyToolCalls(text)
	if !hasHarmony || len(calls) != 1 {
		t.Fatalf("got (%v, %+v)", hasHarmony, calls)
	}
	if calls[0].Arguments == nil || len(calls[0].Arguments) != 0 {
		t.Fatalf("arguments = %+v, want empty map", calls[0].Arguments)
	}
}

func TestParseHarmonyToolCallsSkipsObjectsMissingName(t *testing.T) {
	text := `<|call|>{"arguments":{"x":1}}`
	hasHarmony, calls := parseHarmonyToolCalls(text)
	if !hasHarmony {
		t.Fatal("expected hasHarmony = true (tag present)")
	}
	if len(calls) != 0 {
		t.Fatalf("got %d calls, want 0 for an object missing name", len(calls))
	}
}

func TestParseHarmonyToolCallsSkipsMalformedJSON(t *testing.T) {
	text := `<|call|>{"name": "broken", "arguments": }`
	hasHarmony, calls := parseHarmonyToolCalls(text)
	if !hasHarmony {
		t.Fatal("expected hasHarmony = true (tag present)")
	}
	if len(calls) != 0 {
		t.Fatalf("got %d calls, want 0 for malformed JSON", len(calls))
	}
}

func TestParseHarmonyToolCallsMultipleCalls(t *testing.T) {
	text := `<|call|>{"name":"a","arguments":{}}<|call|>{"name":"b","arguments":{"x":1}}`
	hasHarmony, calls := parseHarmonyToolCalls(text)
	if !hasHarmony || len(calls) != 2 {
		t.Fatalf("got (%v, %+v)", hasHarmony, calls)
	}
	if calls[0].Name != "a" || calls[1].Name != "b" {
		t.Fatalf("got %+v", calls)
	}
}

func TestExtractJSONObjectsIgnoresBracesInsideStrings(t *testing.T) {
	text := `prefix {"name":"x","note":"has a } brace inside"} suffix`
	objects := extractJSONObjects(text)
	if len(objects) != 1 {
		t.Fatalf("got %d objects, want 1: %+v", len(objects), objects)
	}
	if objects[0] != `{"name":"x","note":"has a } brace inside"}` {
		t.Fatalf("got %q", objects[0])
	}
}

func TestExtractJSONObjectsHandlesEscapedQuotes(t *testing.T) {
	text := `{"name":"x","note":"a \"quoted\" word"}`
	objects := extractJSONObjects(text)
	if len(objects) != 1 || objects[0] != text {
		t.Fatalf("got %+v", objects)
	}
}

func TestExtractJSONObjectsToleratesUnbalancedBraces(t *testing.T) {
	text := `{"a":1} trailing } stray, then {"b":2} still fine`
	objects := extractJSONObjects(text)
	if len(objects) != 2 {
		t.Fatalf("got %d objects, want 2: %+v", len(objects), objects)
	}
	if objects[0] != `{"a":1}` || objects[1] != `{"b":2}` {
		t.Fatalf("got %+v", objects)
	}
}
