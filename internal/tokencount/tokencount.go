// Package tokencount implements the OpenAI chat-completions token-counting
// formula against an OpenAI Responses request, used both to answer
// /v1/messages/count_tokens and to seed message_start usage before the
// upstream reports real numbers.
package tokencount

import (
	"encoding/json"
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// fallbackModel is used whenever the requested model has no known encoding
// or cookbook token-overhead entry.
const fallbackModel = "gpt-4o-mini-2024-07-18"

var knownChatModels = map[string]struct{}{
	"gpt-3.5-turbo-0125":     {},
	"gpt-3.5-turbo-0613":     {},
	"gpt-4-0613":             {},
	"gpt-4-32k-0613":         {},
	"gpt-4o":                 {},
	"gpt-4o-2024-08-06":      {},
	"gpt-4o-mini":            {},
	"gpt-4o-mini-2024-07-18": {},
}

var toolOverheadByModel = map[string]int{
	"gpt-3.5-turbo-0125":     4,
	"gpt-3.5-turbo-0613":     4,
	"gpt-4-0613":             4,
	"gpt-4-32k-0613":         4,
	"gpt-4o":                 4,
	"gpt-4o-2024-08-06":      4,
	"gpt-4o-mini":            4,
	"gpt-4o-mini-2024-07-18": 4,
}

// Message is the flattened shape counted by the cookbook formula: a role,
// a joined text body, and an optional name field (present for tool outputs).
type Message struct {
	Role    string
	Content string
	Name    string
}

// FunctionTool is the flattened shape of a tool definition counted
// alongside the message list.
type FunctionTool struct {
	Name        string
	Description string
	Parameters  any
}

func getEncoding(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding("o200k_base")
}

func encodeLen(enc *tiktoken.Tiktoken, s string) int {
	if s == "" {
		return 0
	}
	return len(enc.Encode(s, nil, nil))
}

// CountMessageTokens applies the OpenAI cookbook chat-message formula:
// tokens_per_message=3 per message, +1 for a present "name" field, and a
// final +3 overhead. Unknown models recurse against the fallback model.
func CountMessageTokens(messages []Message, model string) (int, error) {
	if _, ok := knownChatModels[model]; !ok {
		return CountMessageTokens(messages, fallbackModel)
	}

	enc, err := getEncoding(model)
	if err != nil {
		return 0, fmt.Errorf("tokencount: resolve encoding for %q: %w", model, err)
	}

	const tokensPerMessage = 3
	const tokensPerName = 1

	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += encodeLen(enc, m.Role)
		total += encodeLen(enc, m.Content)
		if m.Name != "" {
			total += encodeLen(enc, m.Name) + tokensPerName
		}
	}
	total += 3
	return total, nil
}

// CountToolTokens applies the cookbook's per-tool overhead plus the
// encoded length of name, description, and compact-JSON parameters.
func CountToolTokens(tools []FunctionTool, model string) (int, error) {
	if len(tools) == 0 {
		return 0, nil
	}
	enc, err := getEncoding(model)
	if err != nil {
		return 0, fmt.Errorf("tokencount: resolve encoding for %q: %w", model, err)
	}
	overhead, ok := toolOverheadByModel[model]
	if !ok {
		overhead = toolOverheadByModel[fallbackModel]
	}

	total := 0
	for _, tool := range tools {
		total += overhead
		total += encodeLen(enc, tool.Name)
		total += encodeLen(enc, tool.Description)

		params := tool.Parameters
		if params == nil {
			params = map[string]any{}
		}
		compact, err := json.Marshal(params)
		if err != nil {
			return 0, fmt.Errorf("tokencount: encode tool parameters: %w", err)
		}
		total += encodeLen(enc, string(compact))
	}
	return total, nil
}
