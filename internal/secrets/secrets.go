// Package secrets resolves delivery credentials.
//
// Two backends: 1Password Connect for production, a local JSON file for
// development. "auto" (the default) uses 1Password when a token is present
// and falls back to local otherwise.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Credential is a resolved username/password pair.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Store resolves named credentials.
type Store interface {
	// GetCredential fetches the credential stored under name.
	GetCredential(ctx context.Context, name string) (*Credential, error)
}

// Config holds configuration for the secrets backend.
type Config struct {
	// Backend specifies which backend to use: "1password", "local", or "auto".
	Backend string

	// 1Password Connect configuration, from OP_CONNECT_HOST / OP_CONNECT_TOKEN.
	ConnectHost  string
	ConnectToken string

	// 1Password vault name (default: "scout").
	Vault string

	// Local storage path (default: ~/.scout/credentials.json).
	LocalPath string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		Backend:      getEnv("SCOUT_SECRETS_BACKEND", "auto"),
		ConnectHost:  os.Getenv("OP_CONNECT_HOST"),
		ConnectToken: os.Getenv("OP_CONNECT_TOKEN"),
		Vault:        getEnv("OP_VAULT", "scout"),
		LocalPath:    os.Getenv("SCOUT_CREDENTIALS_FILE"),
	}
}

// NewStore creates a Store based on configuration.
func NewStore(cfg Config, logger *slog.Logger) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		if cfg.ConnectToken == "" {
			return nil, fmt.Errorf("1Password backend requested but OP_CONNECT_TOKEN not set")
		}
		return NewOnePasswordStore(cfg.ConnectHost, cfg.ConnectToken, cfg.Vault, logger)

	case "local":
		return NewLocalStore(cfg.LocalPath, logger)

	case "auto":
		if cfg.ConnectToken != "" {
			store, err := NewOnePasswordStore(cfg.ConnectHost, cfg.ConnectToken, cfg.Vault, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password, falling back to local credentials",
					"error", err)
				return NewLocalStore(cfg.LocalPath, logger)
			}
			return store, nil
		}
		return NewLocalStore(cfg.LocalPath, logger)

	default:
		return nil, fmt.Errorf("unknown secrets backend %q", backend)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
