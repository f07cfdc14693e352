package anthropicerr

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestNewDefaultsStatusAndType(t *testing.T) {
	e := New(KindInvalidRequest, "model is required", WithParam("model"))
	if e.Status != 400 {
		t.Fatalf("status = %d, want 400", e.Status)
	}
	if e.Type != "invalid_request_error" {
		t.Fatalf("type = %q", e.Type)
	}
	if e.Param == nil || *e.Param != "model" {
		t.Fatalf("param = %v, want model", e.Param)
	}
}

func TestNewStreamCancelledUsesNonStandardStatus(t *testing.T) {
	e := New(KindStreamCancelled, "client disconnected")
	if e.Status != 499 {
		t.Fatalf("status = %d, want 499", e.Status)
	}
	if e.Type != "stream_cancelled_error" {
		t.Fatalf("type = %q", e.Type)
	}
}

func TestFromOpenAIPreservesUpstreamShape(t *testing.T) {
	body := []byte(`{"error":{"message":"invalid api key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	e := FromOpenAI(401, body)
	if e.Kind != KindUpstream {
		t.Fatalf("kind = %v, want upstream", e.Kind)
	}
	if e.Message != "invalid api key" {
		t.Fatalf("message = %q", e.Message)
	}
	if e.Type != "invalid_request_error" {
		t.Fatalf("type = %q", e.Type)
	}
	if e.Code == nil || *e.Code != "invalid_api_key" {
		t.Fatalf("code = %v", e.Code)
	}
}

func TestFromOpenAINonJSONBodyFallsBackToGenericUpstreamError(t *testing.T) {
	e := FromOpenAI(502, []byte("<html>bad gateway</html>"))
	if e.Kind != KindUpstream || e.Status != 502 {
		t.Fatalf("got kind=%v status=%d", e.Kind, e.Status)
	}
	if e.Message == "" {
		t.Fatal("expected a non-empty fallback message")
	}
}

func TestWriteJSONEnvelopeShape(t *testing.T) {
	e := New(KindAuthentication, "missing bearer token", WithRequestID("req-123"))
	rec := httptest.NewRecorder()
	if err := e.WriteJSON(rec); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var decoded struct {
		Type  string `json:"type"`
		Error struct {
			Type      string `json:"type"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Type != "error" {
		t.Fatalf("envelope type = %q, want error", decoded.Type)
	}
	if decoded.Error.Type != "authentication_error" {
		t.Fatalf("error type = %q", decoded.Error.Type)
	}
	if decoded.Error.RequestID != "req-123" {
		t.Fatalf("request_id = %q, want req-123", decoded.Error.RequestID)
	}
}

func TestWriteSSEEmitsSingleErrorFrame(t *testing.T) {
	e := New(KindTransport, "upstream connection reset")
	var buf bytes.Buffer
	if err := e.WriteSSE(&buf); err != nil {
		t.Fatalf("WriteSSE: %v", err)
	}
	out := buf.String()
	if !bytes.HasPrefix([]byte(out), []byte("event: error\ndata: ")) {
		t.Fatalf("unexpected frame prefix: %q", out)
	}
	if !bytes.HasSuffix([]byte(out), []byte("\n\n")) {
		t.Fatalf("frame must end with a blank line: %q", out)
	}
}
