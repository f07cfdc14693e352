// Package transport implements upstream dispatch to either a direct
// OpenAI-compatible Responses API or a ChatGPT/Codex OAuth-backed backend,
// including the mode-dependent payload rewrites, the one-shot 401
// refresh-retry, and the LM-Studio fallback chain.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"time"

	"github.com/mkurz/claudex/internal/correlation"
)

// CredentialProvider supplies a fresh access token (and optional account
// id) for OAuth-backed requests. Implemented by
// internal/tokensource.CodexTokenSource; kept as a narrow interface here so
// the transport package never depends on the credential file format.
type CredentialProvider interface {
	// AccessToken returns a usable access token and optional account id.
	// When force is true, the provider must refresh before returning,
	// bypassing its own freshness check - the unauthorized-refresh path
	// taken after an upstream 401.
	AccessToken(ctx context.Context, force bool) (accessToken, accountID string, err error)
}

// Mode selects the upstream backend.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeOAuth  Mode = "oauth"
)

// Config configures a Transport.
type Config struct {
	Mode Mode

	// Direct mode.
	APIKey  string
	BaseURL string

	// OAuth mode.
	OAuthBaseURL        string
	DefaultInstructions string
	Credentials         CredentialProvider

	// HTTPClient, if set, is used instead of constructing a default client.
	// Tests inject a client pointed at an httptest.Server.
	HTTPClient *http.Client

	// RequestTimeout bounds one upstream POST (streaming or not); defaults
	// to 300s. Token refresh requests are bounded by the credential
	// provider's own HTTP client, not by this value.
	RequestTimeout time.Duration
}

// Transport drives the upstream OpenAI Responses API.
type Transport struct {
	cfg    Config
	client *http.Client
}

// New constructs a Transport from cfg, applying a default POST timeout
// when unset.
func New(cfg Config) *Transport {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Transport{cfg: cfg, client: client}
}

func (t *Transport) baseURL() string {
	if t.cfg.Mode == ModeOAuth {
		return t.cfg.OAuthBaseURL
	}
	return t.cfg.BaseURL
}

// isLoopbackPort1234 implements the LM-Studio heuristic: the configured
// base URL resolves to loopback on port 1234.
func isLoopbackPort1234(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return false
	}
	port := u.Port()
	if port == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n == 1234
}

// SendJSON issues one non-streaming request and returns the decoded
// response body. In OAuth mode, if the backend answers with an SSE body
// instead of a JSON object (some Codex deployments always stream), the
// response.completed frame is extracted instead.
func (t *Transport) SendJSON(ctx context.Context, payload map[string]any) (map[string]any, error) {
	resp, body, err := t.roundTrip(ctx, payload, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if isEventStream(contentType) {
		return findCompletedResponse(bytes.NewReader(body))
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &Error{Op: "decode_json_response", Err: err}
	}
	return decoded, nil
}

// SendStream issues one streaming request and returns a lazy sequence of
// decoded SSE frame payloads for the stream translator to consume.
func (t *Transport) SendStream(ctx context.Context, payload map[string]any) (iter.Seq2[map[string]any, error], func() error, error) {
	resp, _, err := t.roundTripStreaming(ctx, payload)
	if err != nil {
		return nil, nil, err
	}
	closer := resp.Body.Close
	return eventPayloads(decodeSSE(readRawSSE(resp.Body))), closer, nil
}

func isEventStream(contentType string) bool {
	return len(contentType) >= 17 && contentType[:17] == "text/event-stream"
}

// roundTrip performs the buffered (non-streaming-response-body) request
// path used by SendJSON: the full body is always read so fallback
// candidates and 401 retries can be evaluated before returning.
func (t *Transport) roundTrip(ctx context.Context, payload map[string]any, stream bool) (*http.Response, []byte, error) {
	candidates := t.candidates(payload)

	var lastErr error
	for _, candidate := range candidates {
		resp, body, err := t.attempt(ctx, candidate, stream)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			uerr := classifyUpstreamError(resp.StatusCode, body)
			lastErr = uerr

			if t.cfg.Mode == ModeOAuth && resp.StatusCode == http.StatusUnauthorized {
				retryResp, retryBody, rerr := t.attemptWithForcedRefresh(ctx, candidate, stream)
				if rerr != nil {
					lastErr = rerr
					continue
				}
				if retryResp.StatusCode >= 400 {
					retryResp.Body.Close()
					lastErr = classifyUpstreamError(retryResp.StatusCode, retryBody)
					continue
				}
				return retryResp, retryBody, nil
			}

			if !t.shouldFallback(resp.StatusCode, body) {
				return nil, nil, uerr
			}
			continue
		}
		return resp, body, nil
	}
	return nil, nil, lastErr
}

// roundTripStreaming mirrors roundTrip but leaves the winning response body
// unread (it is the live SSE stream the caller will consume). Error
// responses are still fully buffered so they can be classified and, for
// OAuth 401s, retried.
func (t *Transport) roundTripStreaming(ctx context.Context, payload map[string]any) (*http.Response, []byte, error) {
	candidates := t.candidates(payload)

	var lastErr error
	for _, candidate := range candidates {
		resp, err := t.do(ctx, candidate, true)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < 400 {
			return resp, nil, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		uerr := classifyUpstreamError(resp.StatusCode, body)
		lastErr = uerr

		if t.cfg.Mode == ModeOAuth && resp.StatusCode == http.StatusUnauthorized {
			retryResp, err := t.do(ctx, candidate, true, withForcedRefresh)
			if err != nil {
				lastErr = err
				continue
			}
			if retryResp.StatusCode >= 400 {
				retryBody, _ := io.ReadAll(retryResp.Body)
				retryResp.Body.Close()
				lastErr = classifyUpstreamError(retryResp.StatusCode, retryBody)
				continue
			}
			return retryResp, nil, nil
		}

		if !t.shouldFallback(resp.StatusCode, body) {
			return nil, nil, uerr
		}
	}
	return nil, nil, lastErr
}

// candidates builds the ordered list of payload variants to try: the
// primary (mode-appropriate) payload, followed by the two LM-Studio
// fallback rewrites (direct mode only; they are only consulted if the
// primary attempt fails with invalid_union against a loopback:1234 base
// URL, enforced by shouldFallback).
func (t *Transport) candidates(payload map[string]any) []map[string]any {
	primary := cloneShallow(payload)
	if t.cfg.Mode == ModeOAuth {
		rewriteForOAuthMode(primary, t.cfg.DefaultInstructions)
	}

	if t.cfg.Mode != ModeDirect || !isLoopbackPort1234(t.baseURL()) {
		return []map[string]any{primary}
	}

	out := []map[string]any{primary}
	if normalized := normalizeInput(primary); !candidateSeen(out, normalized) {
		out = append(out, normalized)
	}
	if collapsed := collapseInput(primary); !candidateSeen(out, collapsed) {
		out = append(out, collapsed)
	}
	return out
}

// candidateSeen reports whether candidate duplicates the original payload
// or any earlier candidate already in out.
func candidateSeen(out []map[string]any, candidate map[string]any) bool {
	for _, existing := range out {
		if reflect.DeepEqual(existing, candidate) {
			return true
		}
	}
	return false
}

// shouldFallback reports whether a failed attempt qualifies for the next
// LM-Studio fallback candidate: 400, error.param=="input",
// error.code=="invalid_union".
func (t *Transport) shouldFallback(status int, body []byte) bool {
	if t.cfg.Mode != ModeDirect || status != http.StatusBadRequest {
		return false
	}
	if !isLoopbackPort1234(t.baseURL()) {
		return false
	}
	var envelope struct {
		Error struct {
			Param string `json:"param"`
			Code  string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	return envelope.Error.Param == "input" && envelope.Error.Code == "invalid_union"
}

type doOption func(*doOptions)

type doOptions struct {
	forceRefresh bool
}

func withForcedRefresh(o *doOptions) { o.forceRefresh = true }

func (t *Transport) attempt(ctx context.Context, payload map[string]any, stream bool, opts ...doOption) (*http.Response, []byte, error) {
	resp, err := t.do(ctx, payload, stream, opts...)
	if err != nil {
		return nil, nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, &Error{Op: "read_response_body", Err: err}
	}
	// Rebuild a response with a fresh, re-readable body for callers that
	// still want to branch on resp.StatusCode after this point.
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, body, nil
}

func (t *Transport) attemptWithForcedRefresh(ctx context.Context, payload map[string]any, stream bool) (*http.Response, []byte, error) {
	return t.attempt(ctx, payload, stream, withForcedRefresh)
}

// do executes one HTTP POST against the upstream Responses endpoint,
// applying mode-dependent authentication headers.
func (t *Transport) do(ctx context.Context, payload map[string]any, stream bool, opts ...doOption) (*http.Response, error) {
	var o doOptions
	for _, opt := range opts {
		opt(&o)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: "marshal_request", Err: err}
	}

	endpoint := t.baseURL() + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: "build_request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	switch t.cfg.Mode {
	case ModeDirect:
		if t.cfg.APIKey == "" {
			return nil, &MissingCredentials{Reason: "direct mode requires an api key"}
		}
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	case ModeOAuth:
		if t.cfg.Credentials == nil {
			return nil, &MissingCredentials{Reason: "oauth mode requires a credential provider"}
		}
		accessToken, accountID, err := t.cfg.Credentials.AccessToken(ctx, o.forceRefresh)
		if err != nil {
			return nil, &MissingCredentials{Reason: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		if accountID != "" {
			req.Header.Set("ChatGPT-Account-Id", accountID)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Op: "do_request", Err: err}
	}
	return resp, nil
}

func classifyUpstreamError(status int, body []byte) error {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		payload = string(body)
	}
	return &UpstreamError{Status: status, Payload: payload}
}

// DefaultDialer mirrors the standard library's DefaultTransport: a cloned
// http.DefaultTransport with a bounded response-header timeout so a
// hanging upstream cannot stall a connection indefinitely.
func DefaultDialer() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = 30 * time.Second
	t.DialContext = (&net.Dialer{Timeout: 10 * time.Second}).DialContext
	return t
}
