package proxy

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mkurz/claudex/internal/mapping"
	"github.com/mkurz/claudex/internal/modelmap"
)

type fakeSender struct {
	jsonResult map[string]any
	jsonErr    error
	frames     []map[string]any
	streamErr  error
}

func (f *fakeSender) SendJSON(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return f.jsonResult, f.jsonErr
}

func (f *fakeSender) SendStream(ctx context.Context, payload map[string]any) (iter.Seq2[map[string]any, error], func() error, error) {
	if f.streamErr != nil {
		return nil, nil, f.streamErr
	}
	seq := func(yield func(map[string]any, error) bool) {
		for _, frame := range f.frames {
			if !yield(frame, nil) {
				return
			}
		}
	}
	return seq, func() error { return nil }, nil
}

func newTestHandlerDeps(t *testing.T) (*mapping.RequestMapper, *mapping.ResponseMapper) {
	t.Helper()
	resolver, err := modelmap.NewResolver("", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return mapping.NewRequestMapper(resolver), mapping.NewResponseMapper()
}

func TestMessagesHandlerNonStreaming(t *testing.T) {
	reqMapper, respMapper := newTestHandlerDeps(t)
	sender := &fakeSender{jsonResult: map[string]any{
		"status": "completed",
		"output": []any{
			map[string]any{"type": "message", "content": []any{
				map[string]any{"type": "output_text", "text": "hello back"},
			}},
		},
		"usage": map[string]any{"input_tokens": 5, "output_tokens": 2},
	}}
	h := &MessagesHandler{RequestMapper: reqMapper, ResponseMapper: respMapper, Transport: sender}

	body := `{"model":"claude-3-5-sonnet-latest","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded["role"] != "assistant" || decoded["type"] != "message" {
		t.Fatalf("unexpected response shape: %+v", decoded)
	}
}

func TestMessagesHandlerInvalidJSONBodyReturns400(t *testing.T) {
	reqMapper, respMapper := newTestHandlerDeps(t)
	h := &MessagesHandler{RequestMapper: reqMapper, ResponseMapper: respMapper, Transport: &fakeSender{}}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMessagesHandlerStreamingEmitsSSEFrames(t *testing.T) {
	reqMapper, respMapper := newTestHandlerDeps(t)
	sender := &fakeSender{frames: []map[string]any{
		{"type": "response.output_text.delta", "delta": "hi"},
		{"type": "response.output_text.done"},
		{"type": "response.completed", "response": map[string]any{"status": "completed"}},
	}}
	h := &MessagesHandler{RequestMapper: reqMapper, ResponseMapper: respMapper, Transport: sender, ForceStream: true}

	body := `{"model":"claude-3-5-sonnet-latest","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content-type = %q, want text/event-stream", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "event: message_start") {
		t.Fatalf("missing message_start frame: %s", out)
	}
	if !strings.Contains(out, "event: message_stop") {
		t.Fatalf("missing message_stop frame: %s", out)
	}
}

func TestCountTokensHandler(t *testing.T) {
	reqMapper, _ := newTestHandlerDeps(t)
	h := &CountTokensHandler{RequestMapper: reqMapper}

	body := `{"model":"claude-3-5-sonnet-latest","messages":[{"role":"user","content":"hello there"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var decoded struct {
		InputTokens int `json:"input_tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.InputTokens <= 0 {
		t.Fatalf("input_tokens = %d, want positive", decoded.InputTokens)
	}
}
