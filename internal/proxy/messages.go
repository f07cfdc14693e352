package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"

	"github.com/mkurz/claudex/internal/anthropicerr"
	"github.com/mkurz/claudex/internal/mapping"
	"github.com/mkurz/claudex/internal/observability"
	"github.com/mkurz/claudex/internal/schema"
	"github.com/mkurz/claudex/internal/streamtranslate"
	"github.com/mkurz/claudex/internal/tokencount"
	"github.com/mkurz/claudex/internal/transport"
)

// Sender is the subset of transport.Transport the handlers need, narrowed
// to an interface so tests can substitute a fake upstream.
type Sender interface {
	SendJSON(ctx context.Context, payload map[string]any) (map[string]any, error)
	SendStream(ctx context.Context, payload map[string]any) (iter.Seq2[map[string]any, error], func() error, error)
}

// compile-time check that *transport.Transport satisfies Sender.
var _ Sender = (*transport.Transport)(nil)

// MessagesHandler serves POST /v1/messages and POST /v1/messages/stream:
// the former dispatches based on the request body's "stream" field, the
// latter always streams.
type MessagesHandler struct {
	RequestMapper  *mapping.RequestMapper
	ResponseMapper *mapping.ResponseMapper
	Transport      Sender
	ForceStream    bool

	// LogPayloads gates request/response body logging; when false, logged
	// payloads are fully redacted.
	LogPayloads bool
}

// toolUseSpikeThreshold is the tool_use block count at or above which a
// request gets a structured warning before dispatch.
const toolUseSpikeThreshold = 40

var _ http.Handler = (*MessagesHandler)(nil)

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req schema.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnthropicError(ctx, w, anthropicerr.New(anthropicerr.KindInvalidRequest, "invalid request body: "+err.Error()))
		return
	}

	h.logInbound(ctx, r.URL.Path, &req)

	openaiReq, err := h.RequestMapper.ToOpenAI(&req)
	if err != nil {
		writeAnthropicError(ctx, w, requestMapError(err))
		return
	}

	payload, err := toPayload(openaiReq)
	if err != nil {
		writeAnthropicError(ctx, w, anthropicerr.New(anthropicerr.KindInvalidRequest, "failed to encode upstream request: "+err.Error()))
		return
	}

	if h.ForceStream || req.Stream {
		h.streamResponse(ctx, w, &req, payload)
		return
	}
	h.writeResponse(ctx, w, payload)
}

func (h *MessagesHandler) writeResponse(ctx context.Context, w http.ResponseWriter, payload map[string]any) {
	if ctx.Err() != nil {
		return
	}

	slog.DebugContext(ctx, "dispatching upstream request",
		"payload", observability.RedactGenericPayload(payload, h.LogPayloads))

	result, err := h.Transport.SendJSON(ctx, payload)
	if err != nil {
		h.logUpstreamError(ctx, err)
		writeAnthropicError(ctx, w, transportError(err))
		return
	}

	var openaiResp schema.OpenAIResponse
	if err := remarshal(result, &openaiResp); err != nil {
		writeAnthropicError(ctx, w, anthropicerr.New(anthropicerr.KindTransport, "malformed upstream response: "+err.Error()))
		return
	}

	resp := h.ResponseMapper.ToAnthropic(&openaiResp)
	if m, err := asJSONMap(resp); err == nil {
		slog.DebugContext(ctx, "mapped response",
			"payload", observability.RedactAnthropicResponse(m, h.LogPayloads))
	}
	writeJSON(ctx, w, resp, http.StatusOK)
}

// logInbound summarizes the decoded request for logging, warning when the
// conversation carries an unusual number of tool_use blocks.
func (h *MessagesHandler) logInbound(ctx context.Context, endpoint string, req *schema.MessagesRequest) {
	payload, err := asJSONMap(req)
	if err != nil {
		return
	}
	summary := observability.SummarizeMessagesRequest(payload)
	if count, ok := summary["tool_use_count"].(int); ok && count >= toolUseSpikeThreshold {
		slog.WarnContext(ctx, "tool use spike",
			"endpoint", endpoint, "model", req.Model, "summary", summary)
	}
	slog.DebugContext(ctx, "inbound request",
		"endpoint", endpoint,
		"model", req.Model,
		"summary", summary,
		"payload", observability.RedactMessagesRequest(payload, h.LogPayloads))
}

func (h *MessagesHandler) logUpstreamError(ctx context.Context, err error) {
	var uerr *transport.UpstreamError
	if !errors.As(err, &uerr) {
		return
	}
	if m, ok := uerr.Payload.(map[string]any); ok {
		slog.WarnContext(ctx, "upstream error", "status", uerr.Status,
			"payload", observability.RedactOpenAIError(m, h.LogPayloads))
		return
	}
	slog.WarnContext(ctx, "upstream error", "status", uerr.Status)
}

func (h *MessagesHandler) streamResponse(ctx context.Context, w http.ResponseWriter, req *schema.MessagesRequest, payload map[string]any) {
	if ctx.Err() != nil {
		return
	}

	initialUsage, err := seedUsage(req)
	if err != nil {
		slog.WarnContext(ctx, "failed to seed initial usage", "error", err)
	}

	payload["stream"] = true
	slog.DebugContext(ctx, "dispatching upstream stream request",
		"payload", observability.RedactGenericPayload(payload, h.LogPayloads))
	frames, closeBody, err := h.Transport.SendStream(ctx, payload)
	if err != nil {
		h.logUpstreamError(ctx, err)
		writeAnthropicError(ctx, w, transportError(err))
		return
	}
	defer func() {
		if closeBody != nil {
			_ = closeBody()
		}
	}()

	sse, err := NewSSEWriter(w)
	if err != nil {
		writeAnthropicError(ctx, w, anthropicerr.New(anthropicerr.KindTransport, "streaming not supported"))
		return
	}

	wroteFrame := false
	for frame, err := range streamtranslate.Translate(frames, initialUsage) {
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream")
			return
		}
		if err != nil {
			slog.ErrorContext(ctx, "stream translation error", "error", err)
			if !wroteFrame {
				// Nothing has reached the client yet; a plain HTTP error
				// response is still possible.
				w.Header().Set("Content-Type", "application/json")
				writeAnthropicError(ctx, w, transportError(err))
				return
			}
			aerr := toAnthropicError(err)
			if id := correlationIDFromContext(ctx); id != "" {
				anthropicerr.WithRequestID(id)(aerr)
			}
			_ = aerr.WriteSSE(w)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			return
		}
		if writeErr := sse.WriteFrame(frame); writeErr != nil {
			slog.ErrorContext(ctx, "failed to write SSE frame", "error", writeErr)
			return
		}
		wroteFrame = true
	}
}

// seedUsage pre-computes the initial_usage seed for message_start, so
// input_tokens is non-zero even before the first usage frame arrives
// from the upstream.
func seedUsage(req *schema.MessagesRequest) (schema.Usage, error) {
	messages := make([]tokencount.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		text, err := m.Content.PlainText()
		if err != nil {
			return schema.Usage{}, err
		}
		messages = append(messages, tokencount.Message{Role: m.Role, Content: text})
	}
	count, err := tokencount.CountMessageTokens(messages, req.Model)
	if err != nil {
		return schema.Usage{}, err
	}
	return schema.Usage{InputTokens: count}, nil
}

func requestMapError(err error) *anthropicerr.Error {
	return anthropicerr.New(anthropicerr.KindInvalidRequest, err.Error())
}

func transportError(err error) *anthropicerr.Error {
	var upstreamErr *transport.UpstreamError
	if errors.As(err, &upstreamErr) {
		body, _ := json.Marshal(upstreamErr.Payload)
		return anthropicerr.FromOpenAI(upstreamErr.Status, body)
	}
	var missing *transport.MissingCredentials
	if errors.As(err, &missing) {
		return anthropicerr.New(anthropicerr.KindAuthentication, missing.Error())
	}
	return anthropicerr.New(anthropicerr.KindTransport, err.Error(), anthropicerr.WithCode("transport_error"))
}

func toPayload(req *schema.OpenAIResponsesRequest) (map[string]any, error) {
	return asJSONMap(req)
}

func asJSONMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func remarshal(src map[string]any, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
