package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mkurz/claudex/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for a
// static upstream API key (direct mode only; oauth/codex mode always uses
// its own credential file, see CodexConfig).
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// UpstreamMode selects which south-face backend the proxy drives.
type UpstreamMode string

const (
	// UpstreamModeDirect speaks the generic OpenAI Responses API with a
	// static bearer API key.
	UpstreamModeDirect UpstreamMode = "direct"
	// UpstreamModeOAuth speaks the ChatGPT/Codex backend, authenticating
	// with a locally stored, self-refreshing OAuth credential.
	UpstreamModeOAuth UpstreamMode = "oauth"
)

// Default configuration values
const (
	DefaultConfigLogFormat        = LogFormatText
	DefaultConfigServerHost       = "127.0.0.1"
	DefaultConfigServerPort       = 4000
	DefaultConfigShutdownTimeout  = 5 * time.Second
	DefaultConfigAuthStorage      = TokenStorageTypeFile
	DefaultConfigUpstreamMode     = UpstreamModeOAuth
	DefaultConfigDirectBaseURL    = "https://api.openai.com/v1"
	DefaultConfigCodexBaseURL     = "https://chatgpt.com/backend-api/codex"
	DefaultConfigCodexRefreshURL  = "https://auth.openai.com/oauth/token"
	DefaultConfigRequestTimeout   = 10 * time.Minute
	DefaultConfigDefaultModel     = "gpt-5"
	DefaultConfigInstructionsText = "You are a coding assistant."
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// UpstreamConfig describes which south-face backend to drive and how to
// reach it.
type UpstreamConfig struct {
	Mode UpstreamMode `json:"mode" validate:"required,oneof=direct oauth"`

	// Direct mode settings.
	BaseURL string     `json:"base_url,omitempty" validate:"omitempty,url"`
	Auth    AuthConfig `json:"auth,omitempty"`

	// OAuth/Codex mode settings.
	Codex CodexConfig `json:"codex,omitempty"`

	// DefaultModel is used when a request's mapped model cannot be
	// resolved against the model map.
	DefaultModel string `json:"default_model"`
	// DefaultInstructions seeds the upstream "instructions" field for
	// backends (like Codex) that require a non-empty system prompt.
	DefaultInstructions string        `json:"default_instructions"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	// ModelMapJSON holds the raw MODEL_MAP_JSON document (flat alias map
	// or {"models": {...}}), parsed by modelmap.NewResolver.
	ModelMapJSON string `json:"model_map_json,omitempty"`
}

// CodexConfig holds the settings for the ChatGPT/Codex OAuth backend.
type CodexConfig struct {
	BaseURL        string `json:"base_url,omitempty" validate:"omitempty,url"`
	CredentialPath string `json:"credential_path,omitempty"`
	// RefreshURL overrides the default OAuth token endpoint. Must be https on
	// the default endpoint's host unless it resolves to localhost (see
	// tokensource.ValidateRefreshTokenURL).
	RefreshURL string `json:"refresh_url,omitempty"`
}

// AuthConfig describes where a static direct-mode API key is stored.
type AuthConfig struct {
	Storage TokenStorageType `json:"storage" validate:"omitempty,oneof=file env keyring"`

	File        string `json:"file,omitempty"`         // For file storage: path to token file
	EnvKey      string `json:"env_key,omitempty"`      // For env storage: environment variable name
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// NewTokenStore creates a TokenStore from the authentication configuration.
func (a *AuthConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch a.Storage {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(a.File)
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(a.EnvKey)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore("claudex-api-key", a.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// ObservabilityConfig controls the verbosity of request/response payload
// logging, independent of LogLevel (which gates severity, not content).
type ObservabilityConfig struct {
	// LogPayloads, when false (the default), causes logged
	// request/response bodies to be fully redacted rather than merely
	// truncated.
	LogPayloads bool `json:"log_payloads"`
	// OTLPEndpoint ships logs via OTLP when set; otherwise logs are
	// mirrored to stdout only.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	OTLPProtocol string `json:"otlp_protocol,omitempty"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel      slog.Level          `json:"log_level"`
	LogFormat     LogFormat           `json:"log_format" validate:"oneof=text json"`
	Server        ServerConfig        `json:"server"`
	Shutdown      ShutdownConfig      `json:"shutdown"`
	Upstream      UpstreamConfig      `json:"upstream"`
	Observability ObservabilityConfig `json:"observability"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Upstream.Mode == "" {
		c.Upstream.Mode = DefaultConfigUpstreamMode
	}
	if c.Upstream.DefaultModel == "" {
		c.Upstream.DefaultModel = DefaultConfigDefaultModel
	}
	if c.Upstream.DefaultInstructions == "" {
		c.Upstream.DefaultInstructions = DefaultConfigInstructionsText
	}
	if c.Upstream.RequestTimeout == 0 {
		c.Upstream.RequestTimeout = DefaultConfigRequestTimeout
	}

	switch c.Upstream.Mode {
	case UpstreamModeDirect:
		if c.Upstream.BaseURL == "" {
			c.Upstream.BaseURL = DefaultConfigDirectBaseURL
		}
		if c.Upstream.Auth.Storage == "" {
			c.Upstream.Auth.Storage = DefaultConfigAuthStorage
		}
		if c.Upstream.Auth.Storage == TokenStorageTypeFile && c.Upstream.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("upstream.auth.file required (auto-detect failed: %w)", err)
			}
			c.Upstream.Auth.File = filepath.Join(configDir, "claudex", "api-key")
		}
		if c.Upstream.Auth.Storage == TokenStorageTypeKeyring && c.Upstream.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("upstream.auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Upstream.Auth.KeyringUser = currentUser.Username
		}
	case UpstreamModeOAuth:
		if c.Upstream.Codex.BaseURL == "" {
			c.Upstream.Codex.BaseURL = DefaultConfigCodexBaseURL
		}
		if c.Upstream.Codex.RefreshURL == "" {
			c.Upstream.Codex.RefreshURL = DefaultConfigCodexRefreshURL
		}
		if c.Upstream.Codex.CredentialPath == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("upstream.codex.credential_path required (auto-detect failed: %w)", err)
			}
			c.Upstream.Codex.CredentialPath = filepath.Join(configDir, "claudex", "codex-auth.json")
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Upstream.Mode {
	case UpstreamModeDirect:
		switch c.Upstream.Auth.Storage {
		case TokenStorageTypeFile:
			if c.Upstream.Auth.File == "" {
				return errors.New("file path required for file storage")
			}
		case TokenStorageTypeEnv:
			if c.Upstream.Auth.EnvKey == "" {
				return errors.New("env_key required for env storage")
			}
		case TokenStorageTypeKeyring:
			if c.Upstream.Auth.KeyringUser == "" {
				return errors.New("keyring_user required for keyring storage")
			}
		default:
			return errors.New("auth.storage required for direct mode")
		}
	case UpstreamModeOAuth:
		if c.Upstream.Codex.CredentialPath == "" {
			return errors.New("codex.credential_path required for oauth mode")
		}
	}

	return nil
}
