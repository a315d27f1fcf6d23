package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// itemReader is the part of connect.Client the provider uses.
type itemReader interface {
	GetItemsByTitle(title string, vaultQuery string) ([]onepassword.Item, error)
	GetItem(itemQuery string, vaultQuery string) (*onepassword.Item, error)
}

// OnePasswordProvider reads secrets from 1Password using the Connect API.
// Each secret is an item titled with the secret name; the value is taken
// from the item's password field, or from a field labelled "credential" or
// "value".
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
//   - OP_VAULT_ID: UUID of the vault holding the secrets
type OnePasswordProvider struct {
	client  itemReader
	vaultID string
	ttl     time.Duration
	logger  *slog.Logger

	// Cache to avoid repeated API calls
	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value   string
	fetched time.Time
}

// OnePasswordConfig holds configuration for 1Password Connect.
type OnePasswordConfig struct {
	Host    string // OP_CONNECT_HOST
	Token   string // OP_CONNECT_TOKEN
	VaultID string // OP_VAULT_ID

	// CacheTTL bounds how long a fetched secret is reused. Zero caches for
	// the life of the process.
	CacheTTL time.Duration
}

// NewOnePasswordProvider creates a new 1Password-backed provider.
func NewOnePasswordProvider(cfg OnePasswordConfig, logger *slog.Logger) (*OnePasswordProvider, error) {
	if cfg.Host == "" || cfg.Token == "" || cfg.VaultID == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}

	client := connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "fleet-alerts-control-plane")
	return newOnePasswordProvider(client, cfg, logger), nil
}

func newOnePasswordProvider(client itemReader, cfg OnePasswordConfig, logger *slog.Logger) *OnePasswordProvider {
	return &OnePasswordProvider{
		client:  client,
		vaultID: cfg.VaultID,
		ttl:     cfg.CacheTTL,
		logger:  logger.With("component", "secrets_1password"),
		cache:   make(map[string]cachedSecret),
	}
}

// Get implements Provider.
func (p *OnePasswordProvider) Get(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	cached, ok := p.cache[name]
	p.mu.RUnlock()
	if ok && (p.ttl == 0 || time.Since(cached.fetched) < p.ttl) {
		return cached.value, nil
	}

	value, err := p.fetch(name)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[name] = cachedSecret{value: value, fetched: time.Now()}
	p.mu.Unlock()

	p.logger.Debug("loaded secret", "name", name)
	return value, nil
}

// Close releases any resources.
func (p *OnePasswordProvider) Close() error {
	// Clear cache
	p.mu.Lock()
	p.cache = make(map[string]cachedSecret)
	p.mu.Unlock()
	return nil
}

func (p *OnePasswordProvider) fetch(name string) (string, error) {
	items, err := p.client.GetItemsByTitle(name, p.vaultID)
	if err != nil {
		if isNotFoundError(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	// Get the full item (including fields)
	item, err := p.client.GetItem(items[0].ID, p.vaultID)
	if err != nil {
		return "", fmt.Errorf("getting item: %w", err)
	}

	if v, ok := secretField(item); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: item %s has no secret field", ErrNotFound, name)
}

// secretField picks the value field of an item.
func secretField(item *onepassword.Item) (string, bool) {
	for _, f := range item.Fields {
		if f.Purpose == "PASSWORD" && f.Value != "" {
			return f.Value, true
		}
	}
	for _, f := range item.Fields {
		switch strings.ToLower(f.Label) {
		case "credential", "value", "password":
			if f.Value != "" {
				return f.Value, true
			}
		}
	}
	return "", false
}

// isNotFoundError checks if an error is a "not found" error from 1Password.
func isNotFoundError(err error) bool {
	// The 1Password SDK returns different error types, check the message
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "not found") || strings.Contains(s, "404") || strings.Contains(s, "no items")
}
