package tokensource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mkurz/claudex/internal/tokenstore"
)

// CodexClientID is the public OAuth2 client identifier Codex/ChatGPT issues
// refresh tokens against.
const CodexClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

// DefaultCodexRefreshTokenURL is the allowlisted refresh endpoint host.
const DefaultCodexRefreshTokenURL = "https://auth.openai.com/oauth/token"

// refreshInterval is the "older than 8 days" ensure-fresh window.
const refreshInterval = 8 * 24 * time.Hour

// ValidateRefreshTokenURL enforces the refresh endpoint override rule: an
// override must point at the host of DefaultCodexRefreshTokenURL over
// https, or at localhost/127.0.0.1/::1, where http is also accepted.
func ValidateRefreshTokenURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid refresh token url: %w", err)
	}
	host := u.Hostname()
	isLocal := host == "localhost" || host == "127.0.0.1" || host == "::1"
	if u.Scheme != "https" && !isLocal {
		return fmt.Errorf("refresh token url must use https (got %q)", u.Scheme)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("refresh token url must use http(s)")
	}
	if allowed, _ := url.Parse(DefaultCodexRefreshTokenURL); !isLocal && host != allowed.Hostname() {
		return fmt.Errorf("refresh token url host %q is not allowed", host)
	}
	return nil
}

// CodexTokenSource implements transport.CredentialProvider against the
// Codex credential file, performing the ensure-fresh and
// unauthorized-refresh paths the ChatGPT/Codex backend requires. Adapted
// from oauth2.TokenSource's pull model to this package's explicit
// force-refresh signature (the Codex flow needs a force path driven by
// upstream 401s, which oauth2.TokenSource's interface has no hook for).
type CodexTokenSource struct {
	store         *tokenstore.CodexCredentialStore
	refreshURL    string
	httpClient    *http.Client
	now           func() time.Time
	refreshSingle sync.Mutex
}

// CodexTokenSourceOption configures a CodexTokenSource.
type CodexTokenSourceOption func(*CodexTokenSource)

// WithRefreshTransport sets a custom base transport for refresh requests.
func WithRefreshTransport(rt http.RoundTripper) CodexTokenSourceOption {
	return func(c *CodexTokenSource) {
		c.httpClient = &http.Client{Timeout: 30 * time.Second, Transport: rt}
	}
}

// NewCodexTokenSource creates a CodexTokenSource backed by store, refreshing
// against refreshURL (already validated via ValidateRefreshTokenURL).
func NewCodexTokenSource(store *tokenstore.CodexCredentialStore, refreshURL string, opts ...CodexTokenSourceOption) *CodexTokenSource {
	c := &CodexTokenSource{
		store:      store,
		refreshURL: refreshURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessToken returns a usable access token, refreshing first when force is
// true or the stored last_refresh predates refreshInterval. Refreshes are
// serialized per-process; a caller that waited behind another's refresh
// still performs its own refresh request.
func (c *CodexTokenSource) AccessToken(ctx context.Context, force bool) (accessToken, accountID string, err error) {
	creds, err := c.store.Read(ctx)
	if err != nil {
		return "", "", fmt.Errorf("read credentials: %w", err)
	}

	if force || c.now().Sub(creds.LastRefresh) >= refreshInterval {
		creds, err = c.refresh(ctx)
		if err != nil {
			return "", "", fmt.Errorf("refresh credentials: %w", err)
		}
	}

	return creds.Tokens.AccessToken, creds.Tokens.AccountID, nil
}

// refresh re-reads the credential file (so a concurrently-written update
// isn't clobbered), POSTs a JSON refresh request, and atomically persists
// the result.
func (c *CodexTokenSource) refresh(ctx context.Context) (*tokenstore.CodexCredentials, error) {
	c.refreshSingle.Lock()
	defer c.refreshSingle.Unlock()

	creds, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": creds.Tokens.RefreshToken,
		"client_id":     CodexClientID,
		"scope":         "openid profile email",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		AccountID    string `json:"account_id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access_token")
	}

	updated := &tokenstore.CodexCredentials{
		Tokens: tokenstore.CodexTokens{
			AccessToken:  parsed.AccessToken,
			RefreshToken: firstNonEmpty(parsed.RefreshToken, creds.Tokens.RefreshToken),
			AccountID:    firstNonEmpty(parsed.AccountID, creds.Tokens.AccountID),
			IDToken:      firstNonEmpty(parsed.IDToken, creds.Tokens.IDToken),
		},
		LastRefresh: c.now(),
	}

	if err := c.store.Write(ctx, updated); err != nil {
		return nil, fmt.Errorf("persist refreshed credentials: %w", err)
	}
	return updated, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
