// Package anthropicerr models the Anthropic-shaped error envelope and the
// taxonomy of failure kinds the proxy can surface, independent of whatever
// produced them (mapping rejection, upstream rejection, transport failure).
package anthropicerr

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Kind is the coarse failure category driving the HTTP status code.
type Kind string

const (
	KindInvalidRequest  Kind = "invalid_request"
	KindAuthentication  Kind = "authentication"
	KindUpstream        Kind = "upstream"
	KindStreamCancelled Kind = "stream_cancelled"
	KindTransport       Kind = "transport"
)

// anthropicType is the wire-level "type" the Anthropic client expects inside
// error.type, e.g. "invalid_request_error", "authentication_error".
func (k Kind) anthropicType() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindAuthentication:
		return "authentication_error"
	case KindStreamCancelled:
		return "stream_cancelled_error"
	case KindTransport:
		return "api_error"
	default:
		return "api_error"
	}
}

func (k Kind) defaultStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindStreamCancelled:
		return 499
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// Error is a taxonomy-classified failure that knows how to render itself as
// the Anthropic wire envelope.
type Error struct {
	Kind    Kind
	Status  int
	Type    string
	Message string
	Param   *string
	Code    *string
	OpenAI  any
	reqID   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Option customizes a constructed Error.
type Option func(*Error)

// WithParam attaches the offending request field name, if known.
func WithParam(param string) Option {
	return func(e *Error) { e.Param = &param }
}

// WithCode attaches an upstream-specific error code, if known.
func WithCode(code string) Option {
	return func(e *Error) { e.Code = &code }
}

// WithOpenAIPayload attaches the raw upstream error body for client debugging.
func WithOpenAIPayload(payload any) Option {
	return func(e *Error) { e.OpenAI = payload }
}

// WithRequestID attaches the correlation id for the envelope's extension field.
func WithRequestID(id string) Option {
	return func(e *Error) { e.reqID = id }
}

// New builds a classified Error with the kind's default HTTP status.
func New(kind Kind, message string, opts ...Option) *Error {
	e := &Error{
		Kind:    kind,
		Status:  kind.defaultStatus(),
		Type:    kind.anthropicType(),
		Message: message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// openAIErrorBody is the {"error": {...}} shape OpenAI-compatible upstreams
// return on failure.
type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param"`
		Code    string `json:"code"`
	} `json:"error"`
}

// FromOpenAI classifies an upstream non-2xx response body into the
// Anthropic taxonomy, preserving the upstream's error type/message/param/code
// when present and always carrying the raw decoded body forward.
func FromOpenAI(status int, body []byte) *Error {
	var parsed any
	var decoded openAIErrorBody
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Error.Message == "" {
		// Not JSON, or not OpenAI's error shape; keep the raw string if any.
		if len(body) > 0 {
			var anyVal any
			if jsonErr := json.Unmarshal(body, &anyVal); jsonErr == nil {
				parsed = anyVal
			} else {
				parsed = string(body)
			}
		}
		return &Error{
			Kind:    KindUpstream,
			Status:  status,
			Type:    "api_error",
			Message: "OpenAI upstream error",
			OpenAI:  parsed,
		}
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = string(body)
	}

	e := &Error{
		Kind:    KindUpstream,
		Status:  status,
		Type:    "api_error",
		Message: decoded.Error.Message,
		OpenAI:  parsed,
	}
	if decoded.Error.Type != "" {
		e.Type = decoded.Error.Type
	}
	if decoded.Error.Param != "" {
		e.Param = &decoded.Error.Param
	}
	if decoded.Error.Code != "" {
		e.Code = &decoded.Error.Code
	}
	return e
}

// envelope is the literal Anthropic error wire shape:
// {"type":"error","error":{...}}.
type envelope struct {
	Type  string     `json:"type"`
	Error errorInner `json:"error"`
}

type errorInner struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Param     *string `json:"param"`
	Code      *string `json:"code"`
	OpenAI    any     `json:"openai"`
	RequestID *string `json:"request_id,omitempty"`
}

func (e *Error) envelope() envelope {
	env := envelope{
		Type: "error",
		Error: errorInner{
			Type:    e.Type,
			Message: e.Message,
			Param:   e.Param,
			Code:    e.Code,
			OpenAI:  e.OpenAI,
		},
	}
	if e.reqID != "" {
		env.Error.RequestID = &e.reqID
	}
	return env
}

// WriteJSON writes the error as a standalone HTTP JSON response.
func (e *Error) WriteJSON(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	return json.NewEncoder(w).Encode(e.envelope())
}

// WriteSSE writes the error as a single Anthropic "error" SSE frame; no
// message_stop follows it.
func (e *Error) WriteSSE(w io.Writer) error {
	body, err := json.Marshal(e.envelope())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: error\ndata: %s\n\n", body)
	return err
}
