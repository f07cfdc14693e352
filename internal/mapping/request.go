// Package mapping translates Anthropic Messages API requests into OpenAI
// Responses API requests, and OpenAI Responses results back into Anthropic
// message responses: function_call / function_call_output items, preserved
// assistant role, web-search tool mapping, and citations.
package mapping

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mkurz/claudex/internal/modelmap"
	"github.com/mkurz/claudex/internal/schema"
)

// InvalidRequestError marks a mapping failure that the caller must surface
// as a 400 invalid_request_error.
type InvalidRequestError struct{ msg string }

func (e *InvalidRequestError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &InvalidRequestError{msg: fmt.Sprintf(format, args...)}
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// RequestMapper converts Anthropic requests into OpenAI Responses requests.
type RequestMapper struct {
	resolver *modelmap.Resolver
}

func NewRequestMapper(resolver *modelmap.Resolver) *RequestMapper {
	return &RequestMapper{resolver: resolver}
}

// ToOpenAI is the pure C1 transform: a validated Anthropic request becomes
// an OpenAI Responses request. It never performs I/O.
func (m *RequestMapper) ToOpenAI(req *schema.MessagesRequest) (*schema.OpenAIResponsesRequest, error) {
	instructions, err := systemToInstructions(req.System)
	if err != nil {
		return nil, err
	}

	inputItems, err := messagesToInputItems(req.Messages)
	if err != nil {
		return nil, err
	}

	resolvedModel, _, err := m.resolver.Resolve(req.Model)
	if err != nil {
		return nil, invalidf("%v", err)
	}

	out := &schema.OpenAIResponsesRequest{
		Model:        resolvedModel,
		Instructions: instructions,
		Input:        inputItems,
	}

	if len(req.Tools) > 0 {
		tools, include, maxToolCalls, err := mapTools(req.Tools)
		if err != nil {
			return nil, err
		}
		out.Tools = tools
		out.Include = include
		out.MaxToolCalls = maxToolCalls
	}

	if req.ToolChoice != nil {
		out.ToolChoice = mapToolChoice(*req.ToolChoice)
	}

	if req.MaxTokens != nil && *req.MaxTokens >= 16 {
		v := *req.MaxTokens
		out.MaxOutputTokens = &v
	}

	return out, nil
}

func systemToInstructions(system *schema.SystemField) (string, error) {
	if system == nil {
		return "", nil
	}
	if system.Blocks == nil {
		return system.Text, nil
	}
	var parts []string
	for _, block := range system.Blocks {
		if block.Type != "text" {
			return "", invalidf("unsupported system block type: %s", block.Type)
		}
		parts = append(parts, block.Text)
	}
	return strings.Join(parts, "\n"), nil
}

// messagesToInputItems walks message content in source order, flushing a
// run of text spans as one message item whenever a tool_use or tool_result
// block is encountered.
func messagesToInputItems(messages []schema.Message) ([]schema.InputItem, error) {
	var items []schema.InputItem

	for _, message := range messages {
		var textRun []schema.InputContentPart
		flush := func() {
			if len(textRun) == 0 {
				return
			}
			items = append(items, schema.InputItem{
				Type:    "message",
				Role:    message.Role,
				Content: textRun,
			})
			textRun = nil
		}

		blocks := message.Content.Blocks
		if blocks == nil {
			if message.Content.Text != "" {
				textRun = append(textRun, schema.InputContentPart{Type: "input_text", Text: message.Content.Text})
			}
			flush()
			continue
		}

		for _, block := range blocks {
			switch block.Type {
			case "text":
				textRun = append(textRun, schema.InputContentPart{Type: "input_text", Text: block.Text})
			case "tool_use":
				flush()
				argsJSON, err := renderToolUseArguments(block)
				if err != nil {
					return nil, err
				}
				items = append(items, schema.InputItem{
					Type:      "function_call",
					CallID:    block.ID,
					Name:      block.Name,
					Arguments: argsJSON,
				})
			case "tool_result":
				flush()
				output, err := renderToolResultOutput(block)
				if err != nil {
					return nil, err
				}
				items = append(items, schema.InputItem{
					Type:   "function_call_output",
					CallID: block.ToolUseID,
					Output: output,
				})
			case "server_tool_use", "web_search_tool_result":
				// Server-side tool activity originates from a prior
				// assistant turn; it carries no further client-supplied
				// input and is dropped from the replayed transcript.
				flush()
			default:
				return nil, invalidf("unsupported content block type: %s", block.Type)
			}
		}
		flush()
	}

	return items, nil
}

func renderToolUseArguments(block schema.ContentBlock) (string, error) {
	if len(block.Input) == 0 {
		return "{}", nil
	}
	// Re-marshal with sorted keys for stable, deterministic output.
	var generic map[string]any
	if err := json.Unmarshal(block.Input, &generic); err != nil {
		// Non-object input (rare); pass the raw value through verbatim.
		return string(block.Input), nil
	}
	return marshalSorted(generic)
}

func marshalSorted(m map[string]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		valJSON, err := json.Marshal(m[k])
		if err != nil {
			return "", err
		}
		sb.Write(keyJSON)
		sb.WriteByte(':')
		sb.Write(valJSON)
	}
	sb.WriteByte('}')
	return sb.String(), nil
}

func renderToolResultOutput(block schema.ContentBlock) (string, error) {
	content, err := block.ToolResultContentValue()
	if err != nil {
		return "", invalidf("invalid tool_result content: %v", err)
	}
	if content.Blocks == nil && len(content.Object) == 0 {
		return content.Text, nil
	}
	if len(content.Object) > 0 {
		return string(content.Object), nil
	}
	var parts []string
	for _, item := range content.Blocks {
		switch item.Type {
		case "text":
			parts = append(parts, item.Text)
		case "tool_use":
			rendered, err := renderToolUseArguments(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("[tool_use:%s id=%s] %s", item.Name, item.ID, rendered))
		default:
			return "", invalidf("unsupported tool_result content block type: %s", item.Type)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func isWebSearchTool(t schema.ToolDef) bool {
	if strings.HasPrefix(t.Type, "web_search_") {
		return true
	}
	if strings.EqualFold(t.Name, "web_search") && len(t.InputSchema) == 0 && len(t.Parameters) == 0 {
		return true
	}
	return false
}

func mapTools(tools []schema.ToolDef) (out []schema.OpenAITool, include []string, maxToolCalls *int, err error) {
	var webSearchTools []schema.ToolDef
	for _, t := range tools {
		if isWebSearchTool(t) {
			webSearchTools = append(webSearchTools, t)
			out = append(out, schema.OpenAITool{Type: "web_search"})
			continue
		}
		params := t.InputSchema
		if len(params) == 0 {
			params = t.Parameters
		}
		if len(params) == 0 {
			params = emptyObjectSchema
		}
		out = append(out, schema.OpenAITool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
			Strict:      t.Strict,
		})
	}

	if len(webSearchTools) > 0 {
		include = []string{"web_search_call.action.sources"}
		if len(tools) == 1 && webSearchTools[0].MaxUses != nil {
			v := *webSearchTools[0].MaxUses
			maxToolCalls = &v
		}
	}
	return out, include, maxToolCalls, nil
}

func mapToolChoice(choice schema.ToolChoice) json.RawMessage {
	switch choice.Mode {
	case "auto", "none", "any":
		raw, _ := json.Marshal(choice.Mode)
		return raw
	case "tool":
		if strings.EqualFold(choice.Name, "web_search") {
			raw, _ := json.Marshal(map[string]string{"type": "web_search"})
			return raw
		}
		raw, _ := json.Marshal(map[string]string{"type": "function", "name": choice.Name})
		return raw
	default:
		return nil
	}
}
