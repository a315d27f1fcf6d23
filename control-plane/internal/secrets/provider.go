// Package secrets resolves sensitive configuration such as the database URL
// and the operator API key hash.
//
// Production deployments read secrets from 1Password Connect; development
// uses environment variables or a directory of secret files.
package secrets

import (
	"context"
	"errors"
)

// Well-known secret names.
const (
	DatabaseURL        = "database_url"
	OperatorAPIKeyHash = "operator_api_key_hash"
	RedisURL           = "redis_url"
)

// ErrNotFound is returned when a secret does not exist in the backend.
var ErrNotFound = errors.New("secret not found")

// Provider resolves secrets by name.
type Provider interface {
	// Get returns the secret value, or ErrNotFound.
	Get(ctx context.Context, name string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}

// GetOr returns the secret, or def when it is not set.
func GetOr(ctx context.Context, p Provider, name, def string) (string, error) {
	v, err := p.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}
