package artifact

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/recallmesh/core"
)

// InMemoryStore is an in-process, versioned ArtifactStore. Data is copied on
// save and load so callers cannot mutate stored buffers. There are no size
// quotas or eviction.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[core.SessionKey]map[string][][]byte // key -> name -> versions
}

var _ core.ArtifactStore = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: map[core.SessionKey]map[string][][]byte{}}
}

// Save appends data as the next version of name and returns that version.
func (a *InMemoryStore) Save(_ context.Context, key core.SessionKey, name string, data []byte) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("artifact name must not be empty")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.artifacts[key] == nil {
		a.artifacts[key] = map[string][][]byte{}
	}

	a.artifacts[key][name] = append(a.artifacts[key][name], slices.Clone(data))

	return len(a.artifacts[key][name]), nil
}

// Load returns a copy of the requested version (0 for latest).
func (a *InMemoryStore) Load(_ context.Context, key core.SessionKey, name string, version int) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	versions := a.artifacts[key][name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if version == 0 {
		version = len(versions)
	}

	if version < 0 || version > len(versions) {
		return nil, fmt.Errorf("%w: %s version %d", ErrNotFound, name, version)
	}

	return slices.Clone(versions[version-1]), nil
}

// List returns the sorted artifact names stored for the session.
func (a *InMemoryStore) List(_ context.Context, key core.SessionKey) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.artifacts[key]))
	for name := range a.artifacts[key] {
		names = append(names, name)
	}

	slices.Sort(names)

	return names, nil
}

// Versions returns the number of stored versions of name.
func (a *InMemoryStore) Versions(key core.SessionKey, name string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.artifacts[key][name])
}

// Delete removes every version of name or returns ErrNotFound.
func (a *InMemoryStore) Delete(_ context.Context, key core.SessionKey, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.artifacts[key][name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	delete(a.artifacts[key], name)

	return nil
}
