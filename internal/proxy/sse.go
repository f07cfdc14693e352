package proxy

import (
	"fmt"
	"net/http"
)

// SSEWriter wraps http.ResponseWriter with Server-Sent Events protocol
// methods. This writer accepts already-framed "event: ...\ndata:
// ...\n\n" strings rather than marshaling each chunk to JSON itself -
// the stream translator (internal/streamtranslate) produces complete
// frames directly, since it must control the event name
// as well as the payload.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter validates flushing support and sets required SSE headers.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter doesn't implement http.Flusher")
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Connection", "keep-alive")
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-cache")
	}

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteFrame writes one pre-formatted SSE frame and flushes immediately.
func (s *SSEWriter) WriteFrame(frame string) error {
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
