package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRejectsNilDependencies(t *testing.T) {
	reqMapper, respMapper := newTestHandlerDeps(t)

	cases := []Deps{
		{ResponseMapper: respMapper, Transport: &fakeSender{}},
		{RequestMapper: reqMapper, Transport: &fakeSender{}},
		{RequestMapper: reqMapper, ResponseMapper: respMapper},
	}
	for i, deps := range cases {
		if _, err := New(deps); err == nil {
			t.Fatalf("case %d: expected an error for missing dependency", i)
		}
	}
}

func TestNewRegistersExpectedRoutes(t *testing.T) {
	reqMapper, respMapper := newTestHandlerDeps(t)
	sender := &fakeSender{jsonResult: map[string]any{
		"id": "resp_1", "model": "gpt-5", "output": []any{},
		"usage": map[string]any{"input_tokens": 1, "output_tokens": 1},
	}}
	p, err := New(Deps{RequestMapper: reqMapper, ResponseMapper: respMapper, Transport: sender})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := `{"model":"claude-3-5-sonnet-20241022","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`

	routes := []string{
		"/v1/messages",
		"/v1/messages/stream",
		"/v1/messages/count_tokens",
		"/v1/messages/token_count",
	}
	for _, route := range routes {
		req := httptest.NewRequest(http.MethodPost, route, strings.NewReader(body))
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, req)
		if rec.Code == http.StatusNotFound {
			t.Errorf("route %s: got 404, expected it to be registered", route)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/event_logging/batch", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("telemetry route: status = %d, want 204", rec.Code)
	}
}

func TestNewUnregisteredRouteReturns404(t *testing.T) {
	reqMapper, respMapper := newTestHandlerDeps(t)
	p, err := New(Deps{RequestMapper: reqMapper, ResponseMapper: respMapper, Transport: &fakeSender{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
