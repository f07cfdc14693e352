package streamtranslate

import (
	"encoding/json"

	"github.com/mkurz/claudex/internal/schema"
)

// asMap type-asserts a JSON-decoded value as a nested object, returning
// nil when it isn't one.
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// extractIndices resolves output_index and content_index, which may live
// at the frame's top level or nested under item/part/content/delta;
// nested values win when present.
func extractIndices(payload map[string]any) (outputIndex, contentIndex *int) {
	var oi, ci *int
	if v, ok := asInt(payload["output_index"]); ok {
		oi = &v
	}
	if v, ok := asInt(payload["content_index"]); ok {
		ci = &v
	}
	for _, key := range []string{"item", "part", "content", "delta"} {
		nested := asMap(payload[key])
		if nested == nil {
			continue
		}
		if v, ok := asInt(nested["output_index"]); ok {
			oi = &v
		}
		if v, ok := asInt(nested["content_index"]); ok {
			ci = &v
		}
	}
	if ci == nil {
		if v, ok := asInt(payload["index"]); ok {
			ci = &v
		}
	}
	return oi, ci
}

// keyForEvent computes the addressing key for one frame, or nil if the
// frame carries no index fields at all (the caller then inherits the last
// allocated block).
func keyForEvent(payload map[string]any, kind string) *blockKey {
	oi, ci := extractIndices(payload)
	if oi == nil && ci == nil {
		return nil
	}
	k := blockKey{outputIndex: noIndex, contentIndex: noIndex, kind: kind}
	if oi != nil {
		k.outputIndex = *oi
	}
	if ci != nil {
		k.contentIndex = *ci
	}
	return &k
}

// extractToolMetadata mirrors extract_tool_metadata: call_id is read from
// a priority list of top-level keys, falling back to call_id/id/item_id
// nested under item/delta; name is read the same way.
func extractToolMetadata(payload map[string]any) (callID, name string) {
	for _, key := range []string{"call_id", "id", "tool_call_id", "item_id"} {
		if s := asString(payload[key]); s != "" {
			callID = s
			break
		}
	}
	name = asString(payload["name"])

	for _, key := range []string{"item", "delta"} {
		nested := asMap(payload[key])
		if nested == nil {
			continue
		}
		if callID == "" {
			if s := asString(nested["call_id"]); s != "" {
				callID = s
			} else if s := asString(nested["id"]); s != "" {
				callID = s
			} else if s := asString(nested["item_id"]); s != "" {
				callID = s
			}
		}
		if name == "" {
			if s := asString(nested["name"]); s != "" {
				name = s
			}
		}
	}
	return callID, name
}

// extractPartialJSON mirrors extract_partial_json's fallback chain across
// partial_json/delta.partial_json/delta.arguments/arguments.
func extractPartialJSON(payload map[string]any) string {
	if s := asString(payload["partial_json"]); s != "" {
		return s
	}
	if delta := asMap(payload["delta"]); delta != nil {
		if s := asString(delta["partial_json"]); s != "" {
			return s
		}
		if s := asString(delta["arguments"]); s != "" {
			return s
		}
		if args, ok := delta["arguments"]; ok && args != nil {
			if rendered, err := json.Marshal(args); err == nil {
				return string(rendered)
			}
		}
	}
	if s := asString(payload["arguments"]); s != "" {
		return s
	}
	if args, ok := payload["arguments"]; ok && args != nil {
		if rendered, err := json.Marshal(args); err == nil {
			return string(rendered)
		}
	}
	return ""
}

// extractFinalArguments returns the raw "arguments" value (string or
// object) from whichever of payload/item/delta carries it.
func extractFinalArguments(payload map[string]any) any {
	if v, ok := payload["arguments"]; ok && v != nil {
		return v
	}
	if item := asMap(payload["item"]); item != nil {
		if v, ok := item["arguments"]; ok && v != nil {
			return v
		}
	}
	if delta := asMap(payload["delta"]); delta != nil {
		if v, ok := delta["arguments"]; ok && v != nil {
			return v
		}
	}
	return nil
}

// renderToolInputJSON renders a final-arguments value (string, object, or
// nil) into a JSON text fragment suitable for one input_json_delta.
func renderToolInputJSON(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		rendered, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(rendered)
	default:
		return ""
	}
}

// finalizeToolInput parses the accumulated buffer (or a raw override) into
// a JSON object, defaulting to {} for anything that isn't a JSON object.
func finalizeToolInput(buffer string, rawOverride any) map[string]any {
	var raw any = buffer
	if rawOverride != nil {
		raw = rawOverride
	}
	switch v := raw.(type) {
	case map[string]any:
		return v
	case []any:
		return map[string]any{}
	case string:
		if v == "" {
			return map[string]any{}
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return map[string]any{}
		}
		if m, ok := parsed.(map[string]any); ok {
			return m
		}
		return map[string]any{}
	default:
		return map[string]any{}
	}
}

func webSearchActionFromMap(m map[string]any) *schema.WebSearchAction {
	if m == nil {
		return nil
	}
	action := &schema.WebSearchAction{}
	if q := asString(m["query"]); q != "" {
		action.Query = q
	} else if queries, ok := m["queries"].([]any); ok && len(queries) > 0 {
		action.Query = asString(queries[0])
	}
	if sources, ok := m["sources"].([]any); ok {
		for _, s := range sources {
			sm := asMap(s)
			if sm == nil {
				continue
			}
			url := asString(sm["url"])
			if url == "" {
				continue
			}
			action.Sources = append(action.Sources, schema.WebSearchSource{
				URL:     url,
				Title:   asString(sm["title"]),
				PageAge: asString(sm["page_age"]),
			})
		}
	}
	return action
}

func usageFromMap(m map[string]any) *OpenAIUsageLike {
	if m == nil {
		return nil
	}
	u := &OpenAIUsageLike{}
	if v, ok := asInt(m["input_tokens"]); ok {
		u.InputTokens = v
	}
	if v, ok := asInt(m["output_tokens"]); ok {
		u.OutputTokens = v
	}
	if v, ok := asInt(m["prompt_tokens"]); ok && u.InputTokens == 0 {
		u.InputTokens = v
	}
	if v, ok := asInt(m["completion_tokens"]); ok && u.OutputTokens == 0 {
		u.OutputTokens = v
	}
	if details := asMap(m["input_tokens_details"]); details != nil {
		if v, ok := asInt(details["cached_tokens"]); ok {
			u.CachedTokens = v
		}
	} else if details := asMap(m["prompt_tokens_details"]); details != nil {
		if v, ok := asInt(details["cached_tokens"]); ok {
			u.CachedTokens = v
		}
	}
	return u
}

// OpenAIUsageLike is a flattened, already-resolved usage snapshot (the
// streaming path reads usage off loosely-typed JSON maps rather than the
// typed schema.OpenAIUsage, since it may arrive nested in either a
// response.usage object or a top-level usage object).
type OpenAIUsageLike struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}
