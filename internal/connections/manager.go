// Package connections resolves named connection profiles into connection
// strings, filling credentials from a secret store.
package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/acme/data-dash/internal/secrets"
	"github.com/acme/data-dash/internal/storage"
)

// PasswordPlaceholder is replaced with the profile's secret.
const PasswordPlaceholder = "{{PASSWORD}}"

// ErrProfileNotFound is returned for an unknown profile name.
var ErrProfileNotFound = errors.New("connection profile not found")

// ProfileSource looks up profiles by name.
type ProfileSource interface {
	ConnectionProfile(ctx context.Context, name string) (storage.ConnectionProfile, error)
}

// Manager implements checks.Context.
type Manager struct {
	profiles ProfileSource
	secrets  secrets.Store
	logger   *slog.Logger
}

// NewManager returns a Manager. A nil secret store makes every profile with
// a SecretRef fail to resolve.
func NewManager(profiles ProfileSource, store secrets.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{profiles: profiles, secrets: store, logger: logger}
}

// ConnectionString returns the resolved connection string for name.
func (m *Manager) ConnectionString(ctx context.Context, name string) (string, error) {
	p, err := m.profiles.ConnectionProfile(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("load profile %s: %w", name, err)
	}

	if p.SecretRef == nil || *p.SecretRef == "" {
		return p.ConnectionStringTemplate, nil
	}
	if m.secrets == nil {
		return "", fmt.Errorf("profile %s: secret %s: %w", name, *p.SecretRef, secrets.ErrNotFound)
	}

	password, err := m.secrets.Get(ctx, *p.SecretRef)
	if err != nil {
		return "", fmt.Errorf("profile %s: %w", name, err)
	}
	if !strings.Contains(p.ConnectionStringTemplate, PasswordPlaceholder) {
		m.logger.Debug("connection template has no password placeholder", "profile", name)
	}
	return strings.ReplaceAll(p.ConnectionStringTemplate, PasswordPlaceholder, password), nil
}
