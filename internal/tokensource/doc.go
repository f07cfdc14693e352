// Package tokensource acquires and automatically refreshes the OAuth2
// access token used to authenticate against the ChatGPT/Codex backend.
//
// The Codex OAuth2 implementation deviates from the standard in the same
// way Anthropic's own Claude OAuth does: token refresh uses a JSON-encoded
// request body rather than form-encoding.
//
// # Token Sources
//
// Use NewCodexTokenSource, backed by a tokenstore.CodexCredentialStore:
//
//	store, _ := tokenstore.NewCodexCredentialStore(path)
//	ts := tokensource.NewCodexTokenSource(store, tokensource.DefaultCodexRefreshTokenURL)
//	accessToken, accountID, err := ts.AccessToken(ctx, false)
//
// # Custom Base Transport
//
// Configure a custom base transport for token refresh requests (e.g., for
// proxies or custom timeouts):
//
//	ts := tokensource.NewCodexTokenSource(
//		store,
//		tokensource.DefaultCodexRefreshTokenURL,
//		tokensource.WithRefreshTransport(customTransport),
//	)
package tokensource
