// Package tokenstore provides persistent storage for the proxy's upstream
// credentials.
//
// Direct mode stores a bare API key behind the TokenStore interface, with
// backends of different security and deployment tradeoffs:
//   - File: local filesystem storage with atomic writes and 0600 permissions
//   - Env: read-only environment variable access (external secret management)
//   - Keyring: OS-native secret storage
//
// OAuth/Codex mode instead uses CodexCredentialStore, which round-trips
// the structured credential file ({"tokens":{...},"last_refresh":...})
// that the refresh flow in internal/tokensource reads and atomically
// replaces.
package tokenstore
