package checks

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrCheckNotFound is returned for unknown check ids.
var ErrCheckNotFound = errors.New("check not found")

// Summary is the listing view of a check.
type Summary struct {
	ID          string                `json:"id"`
	Description string                `json:"description"`
	Parameters  []ParameterDefinition `json:"parameters"`
}

// Registry holds the checks the service can run.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewRegistry returns a registry holding the given checks.
func NewRegistry(cs ...Check) (*Registry, error) {
	r := &Registry{checks: make(map[string]Check, len(cs))}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds c. Ids must be unique and non-empty.
func (r *Registry) Register(c Check) error {
	id := c.ID()
	if id == "" {
		return errors.New("register check: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.checks[id]; dup {
		return fmt.Errorf("register check: duplicate id %q", id)
	}
	r.checks[id] = c
	return nil
}

// Get returns the check with id or ErrCheckNotFound.
func (r *Registry) Get(id string) (Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckNotFound, id)
	}
	return c, nil
}

// List returns summaries sorted by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.checks))
	for _, c := range r.checks {
		params := c.Parameters()
		if params == nil {
			params = []ParameterDefinition{}
		}
		out = append(out, Summary{ID: c.ID(), Description: c.Description(), Parameters: params})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
