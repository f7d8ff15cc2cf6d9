package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/acme/data-dash/internal/storage"
)

// ErrNotFound is returned when a store has no value for a key.
var ErrNotFound = errors.New("secret not found")

// Store resolves secret values by key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// EnvStore reads secrets from environment variables named Prefix+key.
type EnvStore struct {
	Prefix string
}

func (s EnvStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(s.Prefix + key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

// MemoryStore serves a fixed set of secrets.
type MemoryStore struct {
	values map[string]string
}

// NewMemoryStore copies values into a new store.
func NewMemoryStore(values map[string]string) *MemoryStore {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[k] = v
	}
	return &MemoryStore{values: m}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

// Len returns the number of secrets held.
func (s *MemoryStore) Len() int { return len(s.values) }

// SecretReader is the slice of storage.Store the database store needs.
type SecretReader interface {
	Secret(ctx context.Context, key string) (string, error)
}

// DBStore reads secrets saved through the API.
type DBStore struct {
	db SecretReader
}

// NewDBStore wraps db.
func NewDBStore(db SecretReader) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.db.Secret(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("secret store: %w", err)
	}
	return v, nil
}
