// Package streamtranslate translates a lazy sequence of OpenAI Responses
// stream frames into a lazy sequence of Anthropic SSE frames, maintaining
// the block-index state machine, tool-call aggregation, Harmony parsing,
// and usage tracking along the way.
package streamtranslate

import (
	"iter"

	"github.com/mkurz/claudex/internal/schema"
)

// Translate consumes parsed OpenAI Responses event payloads (already
// JSON-decoded into maps) and yields formatted Anthropic SSE frames. It
// runs as a single-threaded cooperative step function: all mutation is
// localized to the state value closed over by the returned sequence.
// Cancellation (the consumer stopping iteration early) simply stops the
// loop; no message_stop is emitted for an abandoned stream.
func Translate(events iter.Seq2[map[string]any, error], initialUsage schema.Usage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s := newState()

		for payload, err := range events {
			if err != nil {
				yield("", err)
				return
			}

			eventType := asString(payload["type"])

			if eventType == "ping" {
				frame, ferr := formatSSE("ping", map[string]any{"type": "ping"})
				if ferr != nil {
					yield("", ferr)
					return
				}
				if !yield(frame, nil) {
					return
				}
				continue
			}

			if !s.messageStarted {
				response := asMap(payload["response"])
				var upstreamUsage *OpenAIUsageLike
				var responseID, model string
				if response != nil {
					upstreamUsage = usageFromMap(asMap(response["usage"]))
					responseID = asString(response["id"])
					model = asString(response["model"])
				}
				frame, ferr := formatSSE("message_start", messageStartPayload(responseID, model, upstreamUsage, initialUsage))
				if ferr != nil {
					yield("", ferr)
					return
				}
				s.messageStarted = true
				if !yield(frame, nil) {
					return
				}
				if eventType == "response.created" {
					continue
				}
			}

			if eventType == "response.created" {
				continue
			}

			switch eventType {
			case "response.reasoning_text.delta", "response.reasoning_text.done",
				"response.reasoning_summary_part.added", "response.reasoning_summary_part.delta",
				"response.reasoning_summary_part.done":
				// Reasoning traces have no Anthropic wire representation in
				// this protocol; they are observed only for diagnostics.
				continue

			case "response.content_part.added":
				// content_part.added never eagerly starts a block: the
				// block begins on the first output_text.delta instead.
				continue

			case "response.output_text.delta":
				if !stepOutputTextDelta(s, payload, yield) {
					return
				}
				continue

			case "response.output_text.done", "response.content_part.done":
				if !stepOutputTextDone(s, payload, eventType, yield) {
					return
				}
				continue

			case "response.output_item.added":
				if !stepOutputItemAdded(s, payload, yield) {
					return
				}
				continue

			case "response.output_item.delta":
				if !stepOutputItemDelta(s, payload, yield) {
					return
				}
				continue

			case "response.function_call_arguments.delta":
				if !stepFunctionCallArgumentsDelta(s, payload, yield) {
					return
				}
				continue

			case "response.function_call_arguments.done":
				if !stepFunctionCallArgumentsDone(s, payload, yield) {
					return
				}
				continue

			case "response.output_item.done":
				if !stepOutputItemDone(s, payload, yield) {
					return
				}
				continue

			case "response.completed":
				stepCompleted(s, payload, yield)
				return

			default:
				// Unknown frame types are ignored to keep the stream resilient
				// to upstream forward-compatible additions.
				continue
			}
		}
	}
}

func stepOutputTextDelta(s *state, payload map[string]any, yield func(string, error) bool) bool {
	var text string
	switch d := payload["delta"].(type) {
	case string:
		text = d
	case map[string]any:
		if t := asString(d["text"]); t != "" {
			text = t
		} else {
			text = asString(payload["text"])
		}
	default:
		text = asString(payload["text"])
	}

	key := keyForEvent(payload, "text")
	resolvedKey := resolveTextKey(key)

	buffered := s.outputTextBuffers[resolvedKey] + text
	hasHarmony, toolCalls := parseHarmonyToolCalls(buffered)
	if hasHarmony {
		s.harmonyTextKeys[resolvedKey] = true
		s.outputTextBuffers[resolvedKey] = buffered
		if s.sawFunctionCall {
			return true
		}
		if len(toolCalls) > 0 && !s.harmonyConsumedKey[resolvedKey] {
			if !emitHarmonyToolCalls(s, toolCalls, yield) {
				return false
			}
			s.harmonyConsumedKey[resolvedKey] = true
			delete(s.outputTextBuffers, resolvedKey)
		}
		return true
	}
	if s.harmonyTextKeys[resolvedKey] {
		s.outputTextBuffers[resolvedKey] = buffered
		return true
	}
	delete(s.outputTextBuffers, resolvedKey)

	index, created := s.getOrCreateBlockIndex(key)
	if created {
		s.startedTextBlocks[index] = true
		frame, err := emitContentBlockStart(index, map[string]any{"type": "text", "text": ""})
		if err != nil {
			return yield("", err)
		}
		if !yield(frame, nil) {
			return false
		}
	}
	frame, err := emitTextDelta(index, text)
	if err != nil {
		return yield("", err)
	}
	return yield(frame, nil)
}

func stepOutputTextDone(s *state, payload map[string]any, eventType string, yield func(string, error) bool) bool {
	isTextDone := eventType == "response.output_text.done"
	if eventType == "response.content_part.done" {
		part := asMap(payload["part"])
		if asString(part["type"]) == "output_text" {
			isTextDone = true
		}
	}
	if !isTextDone {
		return true
	}

	key := keyForEvent(payload, "text")
	resolvedKey := resolveTextKey(key)

	if s.harmonyTextKeys[resolvedKey] {
		buffered := s.outputTextBuffers[resolvedKey]
		hasHarmony, toolCalls := parseHarmonyToolCalls(buffered)
		if hasHarmony && len(toolCalls) > 0 && !s.sawFunctionCall && !s.harmonyConsumedKey[resolvedKey] {
			if !emitHarmonyToolCalls(s, toolCalls, yield) {
				return false
			}
			s.harmonyConsumedKey[resolvedKey] = true
		}
		delete(s.outputTextBuffers, resolvedKey)
		return true
	}

	index, _ := s.getOrCreateBlockIndex(key)
	if !s.completedTextBlocks[index] && s.startedTextBlocks[index] {
		s.completedTextBlocks[index] = true
		frame, err := emitContentBlockStop(index)
		if err != nil {
			return yield("", err)
		}
		return yield(frame, nil)
	}
	return true
}

func resolveTextKey(key *blockKey) blockKey {
	if key != nil {
		return *key
	}
	return blockKey{outputIndex: noIndex, contentIndex: noIndex, kind: "text"}
}

func emitHarmonyToolCalls(s *state, calls []harmonyToolCall, yield func(string, error) bool) bool {
	for _, call := range calls {
		index := s.allocateBlockIndex(nil)
		s.sawToolCall = true
		startFrame, err := emitContentBlockStart(index, map[string]any{
			"type":  "tool_use",
			"id":    fmtHarmonyToolID(index),
			"name":  call.Name,
			"input": call.Arguments,
		})
		if err != nil {
			return yield("", err)
		}
		if !yield(startFrame, nil) {
			return false
		}
		stopFrame, err := emitContentBlockStop(index)
		if err != nil {
			return yield("", err)
		}
		if !yield(stopFrame, nil) {
			return false
		}
	}
	return true
}

func emitWebSearchForCall(s *state, callID string, action *schema.WebSearchAction, keyPayload map[string]any, emitEmptyResults bool, yield func(string, error) bool) bool {
	if !s.webSearchUseEmitted[callID] {
		var key *blockKey
		if keyPayload != nil {
			key = keyForEvent(keyPayload, "web_search_use")
		}
		index := s.allocateBlockIndex(key)
		s.webSearchUseEmitted[callID] = true
		startFrame, err := emitContentBlockStart(index, map[string]any{
			"type":  "server_tool_use",
			"id":    callID,
			"name":  "web_search",
			"input": webSearchInputFromAction(action),
		})
		if err != nil {
			return yield("", err)
		}
		if !yield(startFrame, nil) {
			return false
		}
		stopFrame, err := emitContentBlockStop(index)
		if err != nil {
			return yield("", err)
		}
		if !yield(stopFrame, nil) {
			return false
		}
	}

	if !s.webSearchResultEmit[callID] {
		results := webSearchResultsFromAction(action)
		if len(results) > 0 || emitEmptyResults {
			var key *blockKey
			if keyPayload != nil {
				key = keyForEvent(keyPayload, "web_search_result")
			}
			index := s.allocateBlockIndex(key)
			s.webSearchResultEmit[callID] = true
			if results == nil {
				results = []schema.WebSearchResult{}
			}
			startFrame, err := emitContentBlockStart(index, map[string]any{
				"type":         "web_search_tool_result",
				"tool_use_id":  callID,
				"content":      results,
			})
			if err != nil {
				return yield("", err)
			}
			if !yield(startFrame, nil) {
				return false
			}
			stopFrame, err := emitContentBlockStop(index)
			if err != nil {
				return yield("", err)
			}
			if !yield(stopFrame, nil) {
				return false
			}
		}
	}
	return true
}

func emitToolStartIfNeeded(s *state, index int, meta *toolMeta, requireCompleteMeta bool, yield func(string, error) bool) bool {
	if requireCompleteMeta && !meta.complete() {
		return true
	}
	if s.startedToolBlocks[index] {
		return true
	}
	s.startedToolBlocks[index] = true
	startFrame, err := emitContentBlockStart(index, map[string]any{
		"type":  "tool_use",
		"id":    meta.id,
		"name":  meta.name,
		"input": map[string]any{},
	})
	if err != nil {
		return yield("", err)
	}
	if !yield(startFrame, nil) {
		return false
	}
	if buffered := s.toolInputBuffers[index]; buffered != "" {
		deltaFrame, err := emitInputJSONDelta(index, buffered)
		if err != nil {
			return yield("", err)
		}
		if !yield(deltaFrame, nil) {
			return false
		}
	}
	return true
}

func appendToolPartialAndMaybeEmit(s *state, index int, partialJSON string, yield func(string, error) bool) bool {
	if partialJSON == "" {
		return true
	}
	s.appendToolInput(index, partialJSON)
	if !s.startedToolBlocks[index] {
		return true
	}
	frame, err := emitInputJSONDelta(index, partialJSON)
	if err != nil {
		return yield("", err)
	}
	return yield(frame, nil)
}

func stepOutputItemAdded(s *state, payload map[string]any, yield func(string, error) bool) bool {
	item := asMap(payload["item"])
	itemType := asString(item["type"])

	if itemType == "web_search_call" {
		callID := asString(item["id"])
		if callID == "" {
			return true
		}
		if action := webSearchActionFromMap(asMap(item["action"])); action != nil {
			s.webSearchCalls[callID] = action
		}
		return emitWebSearchForCall(s, callID, s.webSearchCalls[callID], payload, false, yield)
	}

	if itemType == "function_call" {
		s.sawToolCall = true
		s.sawFunctionCall = true
		callID := firstNonEmpty(asString(item["call_id"]), asString(item["id"]))
		name := asString(item["name"])
		index, _ := s.bindToolBlock(keyForEvent(payload, "tool_use"), callID)
		meta := s.mergeToolMeta(index, callID, name)
		s.initToolInputBuffer(index)
		return emitToolStartIfNeeded(s, index, meta, true, yield)
	}
	return true
}

func stepOutputItemDelta(s *state, payload map[string]any, yield func(string, error) bool) bool {
	item := asMap(payload["item"])
	itemType := asString(item["type"])

	if itemType == "web_search_call" {
		callID := asString(item["id"])
		if callID == "" {
			return true
		}
		if action := webSearchActionFromMap(asMap(item["action"])); action != nil {
			s.webSearchCalls[callID] = action
		}
		return emitWebSearchForCall(s, callID, s.webSearchCalls[callID], payload, false, yield)
	}

	if itemType == "function_call" {
		s.sawToolCall = true
		s.sawFunctionCall = true
		callID := firstNonEmpty(asString(item["call_id"]), asString(item["id"]))
		name := asString(item["name"])
		index, created := s.bindToolBlock(keyForEvent(payload, "tool_use"), callID)
		meta := s.mergeToolMeta(index, callID, name)
		if created {
			s.initToolInputBuffer(index)
		}
		if !emitToolStartIfNeeded(s, index, meta, true, yield) {
			return false
		}
		partial := renderArgumentsPartial(item["arguments"])
		return appendToolPartialAndMaybeEmit(s, index, partial, yield)
	}
	return true
}

func stepFunctionCallArgumentsDelta(s *state, payload map[string]any, yield func(string, error) bool) bool {
	callID, name := extractToolMetadata(payload)
	s.sawToolCall = true
	index, created := s.bindToolBlock(keyForEvent(payload, "tool_use"), callID)
	meta := s.mergeToolMeta(index, callID, name)
	if created {
		s.initToolInputBuffer(index)
	}
	if !emitToolStartIfNeeded(s, index, meta, true, yield) {
		return false
	}
	partial := extractPartialJSON(payload)
	return appendToolPartialAndMaybeEmit(s, index, partial, yield)
}

func stepFunctionCallArgumentsDone(s *state, payload map[string]any, yield func(string, error) bool) bool {
	callID, name := extractToolMetadata(payload)
	s.sawToolCall = true
	index, created := s.bindToolBlock(keyForEvent(payload, "tool_use"), callID)
	if s.completedBlocks[index] {
		return true
	}
	meta := s.mergeToolMeta(index, callID, name)
	if created {
		s.initToolInputBuffer(index)
	}
	ensureToolMetaDefaults(meta, index, callID, name)
	finalArgs := extractFinalArguments(payload)
	alreadyStarted := s.startedToolBlocks[index]
	if !alreadyStarted {
		// The final arguments supersede any incomplete buffered prefix:
		// nothing has been emitted yet, so the block starts with one
		// delta carrying the complete JSON.
		if rendered := renderToolInputJSON(finalArgs); rendered != "" {
			s.toolInputBuffers[index] = rendered
		}
	}
	if !emitToolStartIfNeeded(s, index, meta, false, yield) {
		return false
	}
	if alreadyStarted {
		rendered := renderToolInputJSON(finalArgs)
		if rendered != "" && s.toolInputBuffers[index] == "" {
			if !appendToolPartialAndMaybeEmit(s, index, rendered, yield) {
				return false
			}
		}
	}
	delete(s.toolInputBuffers, index)
	s.completedBlocks[index] = true
	frame, err := emitContentBlockStop(index)
	if err != nil {
		return yield("", err)
	}
	return yield(frame, nil)
}

func stepOutputItemDone(s *state, payload map[string]any, yield func(string, error) bool) bool {
	item := asMap(payload["item"])
	itemType := asString(item["type"])

	if itemType == "web_search_call" {
		callID := asString(item["id"])
		if callID == "" {
			return true
		}
		if action := webSearchActionFromMap(asMap(item["action"])); action != nil {
			s.webSearchCalls[callID] = action
		}
		return emitWebSearchForCall(s, callID, s.webSearchCalls[callID], payload, false, yield)
	}

	if itemType == "function_call" {
		s.sawToolCall = true
		s.sawFunctionCall = true
		callID := firstNonEmpty(asString(item["call_id"]), asString(item["id"]))
		name := asString(item["name"])
		index, created := s.bindToolBlock(keyForEvent(payload, "tool_use"), callID)
		if s.completedBlocks[index] {
			return true
		}
		meta := s.mergeToolMeta(index, callID, name)
		if created {
			s.initToolInputBuffer(index)
		}
		ensureToolMetaDefaults(meta, index, callID, name)
		var finalArgs any
		if v, ok := item["arguments"]; ok {
			finalArgs = v
		}
		alreadyStarted := s.startedToolBlocks[index]
		if !alreadyStarted {
			if rendered := renderToolInputJSON(finalArgs); rendered != "" {
				s.toolInputBuffers[index] = rendered
			}
		}
		if !emitToolStartIfNeeded(s, index, meta, false, yield) {
			return false
		}
		if alreadyStarted {
			rendered := renderToolInputJSON(finalArgs)
			if rendered != "" && s.toolInputBuffers[index] == "" {
				if !appendToolPartialAndMaybeEmit(s, index, rendered, yield) {
					return false
				}
			}
		}
		delete(s.toolInputBuffers, index)
		s.completedBlocks[index] = true
		frame, err := emitContentBlockStop(index)
		if err != nil {
			return yield("", err)
		}
		return yield(frame, nil)
	}
	return true
}

func stepCompleted(s *state, payload map[string]any, yield func(string, error) bool) {
	response := asMap(payload["response"])
	if response == nil {
		response = payload
	}

	for callID, action := range s.webSearchCalls {
		if !emitWebSearchForCall(s, callID, action, nil, true, yield) {
			return
		}
	}

	stopReason := deriveStopReasonFromMap(response)
	if stopReason == "end_turn" && s.sawToolCall {
		stopReason = "tool_use"
	}

	usageMap := asMap(response["usage"])
	if usageMap == nil {
		usageMap = asMap(payload["usage"])
	}
	normalized := normalizeUsage(usageFromMap(usageMap))
	s.lastUsage = &normalized

	deltaFrame, err := formatSSE("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": normalized,
	})
	if err != nil {
		yield("", err)
		return
	}
	if !yield(deltaFrame, nil) {
		return
	}

	stopFrame, err := formatSSE("message_stop", map[string]any{
		"type":  "message_stop",
		"usage": normalized,
	})
	if err != nil {
		yield("", err)
		return
	}
	yield(stopFrame, nil)
}

func deriveStopReasonFromMap(response map[string]any) string {
	if output, ok := response["output"].([]any); ok {
		for _, raw := range output {
			item := asMap(raw)
			if asString(item["type"]) == "function_call" {
				return "tool_use"
			}
		}
	}
	if asString(response["status"]) == "incomplete" {
		details := asMap(response["incomplete_details"])
		switch asString(details["reason"]) {
		case "max_output_tokens":
			return "max_tokens"
		case "content_filter":
			return "refusal"
		}
	}
	return "end_turn"
}

func renderArgumentsPartial(v any) string {
	switch args := v.(type) {
	case string:
		return args
	case map[string]any, []any:
		return renderToolInputJSON(args)
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
