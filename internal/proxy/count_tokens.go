package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/mkurz/claudex/internal/anthropicerr"
	"github.com/mkurz/claudex/internal/mapping"
	"github.com/mkurz/claudex/internal/schema"
	"github.com/mkurz/claudex/internal/tokencount"
)

// CountTokensHandler serves POST /v1/messages/count_tokens, aliased at
// /v1/messages/token_count.
type CountTokensHandler struct {
	RequestMapper *mapping.RequestMapper
}

var _ http.Handler = (*CountTokensHandler)(nil)

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req schema.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnthropicError(ctx, w, anthropicerr.New(anthropicerr.KindInvalidRequest, "invalid request body: "+err.Error()))
		return
	}

	openaiReq, err := h.RequestMapper.ToOpenAI(&req)
	if err != nil {
		writeAnthropicError(ctx, w, requestMapError(err))
		return
	}

	messages := make([]tokencount.Message, 0, len(openaiReq.Input)+1)
	if openaiReq.Instructions != "" {
		messages = append(messages, tokencount.Message{Role: "system", Content: openaiReq.Instructions})
	}
	for _, item := range openaiReq.Input {
		messages = append(messages, tokencount.Message{Role: item.Role, Content: renderInputItemText(item)})
	}

	var tools []tokencount.FunctionTool
	for _, t := range openaiReq.Tools {
		if t.Type != "function" {
			continue
		}
		tools = append(tools, tokencount.FunctionTool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	messageTokens, err := tokencount.CountMessageTokens(messages, openaiReq.Model)
	if err != nil {
		writeAnthropicError(ctx, w, anthropicerr.New(anthropicerr.KindInvalidRequest, err.Error()))
		return
	}
	toolTokens, err := tokencount.CountToolTokens(tools, openaiReq.Model)
	if err != nil {
		writeAnthropicError(ctx, w, anthropicerr.New(anthropicerr.KindInvalidRequest, err.Error()))
		return
	}

	writeJSON(ctx, w, schema.CountTokensResponse{InputTokens: messageTokens + toolTokens}, http.StatusOK)
}

func renderInputItemText(item schema.InputItem) string {
	switch item.Type {
	case "function_call":
		return item.Name + " " + item.Arguments
	case "function_call_output":
		return item.Output
	default:
		var out string
		for _, part := range item.Content {
			out += part.Text
		}
		return out
	}
}
