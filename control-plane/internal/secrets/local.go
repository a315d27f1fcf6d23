package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider reads secrets from the environment, falling back to files in
// a directory. This is intended for development and container secret mounts.
//
// A secret named "database_url" is read from FLEETALERTS_DATABASE_URL, then
// from <dir>/database_url.
type LocalProvider struct {
	dir    string
	prefix string
	logger *slog.Logger
}

// NewLocalProvider creates a local provider. dir may be empty to disable
// file lookups.
func NewLocalProvider(dir string, logger *slog.Logger) *LocalProvider {
	if dir != "" {
		logger.Info("using local secrets directory", "path", dir)
	}
	return &LocalProvider{
		dir:    dir,
		prefix: "FLEETALERTS_",
		logger: logger,
	}
}

// Get implements Provider.
func (p *LocalProvider) Get(ctx context.Context, name string) (string, error) {
	if v := os.Getenv(p.envName(name)); v != "" {
		return v, nil
	}
	if p.dir == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	data, err := os.ReadFile(filepath.Join(p.dir, filepath.Base(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Close is a no-op.
func (p *LocalProvider) Close() error {
	return nil
}

func (p *LocalProvider) envName(name string) string {
	return p.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
