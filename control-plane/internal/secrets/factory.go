package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Config holds configuration for the secrets backend.
type Config struct {
	// Backend specifies which backend to use: "1password", "local", or "auto"
	// "auto" (default) uses 1Password if configured, otherwise local
	Backend string

	OnePassword OnePasswordConfig

	// Local secrets directory (optional)
	LocalDir string
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		Backend: getEnv("FLEETALERTS_SECRETS_BACKEND", "auto"),
		OnePassword: OnePasswordConfig{
			Host:     os.Getenv("OP_CONNECT_HOST"),
			Token:    os.Getenv("OP_CONNECT_TOKEN"),
			VaultID:  os.Getenv("OP_VAULT_ID"),
			CacheTTL: 5 * time.Minute,
		},
		LocalDir: os.Getenv("FLEETALERTS_SECRETS_DIR"),
	}
}

func (c Config) onePasswordConfigured() bool {
	return c.OnePassword.Host != "" && c.OnePassword.Token != "" && c.OnePassword.VaultID != ""
}

// NewProvider creates a Provider based on configuration.
func NewProvider(cfg Config, logger *slog.Logger) (Provider, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		return NewOnePasswordProvider(cfg.OnePassword, logger)

	case "local":
		return NewLocalProvider(cfg.LocalDir, logger), nil

	case "auto":
		// Try 1Password first, fall back to local
		if cfg.onePasswordConfigured() {
			p, err := NewOnePasswordProvider(cfg.OnePassword, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password, falling back to local secrets", "error", err)
				return NewLocalProvider(cfg.LocalDir, logger), nil
			}
			return p, nil
		}
		logger.Info("1Password Connect not configured, using local secrets")
		return NewLocalProvider(cfg.LocalDir, logger), nil

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
