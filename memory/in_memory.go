package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/recallmesh/core"
)

// InMemoryStore is a process local MemoryStore keyed by (app, user). It is
// safe for concurrent use.
type InMemoryStore struct {
	mu     sync.RWMutex
	scopes map[scope]*scopeRecords
}

type scope struct {
	app  string
	user string
}

// scopeRecords holds the records of one (app, user) and their content
// hashes.
type scopeRecords struct {
	records []core.MemoryRecord
	hashes  map[string]struct{}
}

var _ core.MemoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{scopes: map[scope]*scopeRecords{}}
}

// AddSession ingests sess and returns the number of new records.
func (m *InMemoryStore) AddSession(_ context.Context, sess *core.Session) (int, error) {
	candidates := RecordsFromSession(sess)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := scope{app: sess.AppName, user: sess.UserID}

	sr := m.scopes[key]
	if sr == nil {
		sr = &scopeRecords{hashes: map[string]struct{}{}}
		m.scopes[key] = sr
	}

	added := 0

	for _, r := range candidates {
		if _, dup := sr.hashes[r.ContentHash]; dup {
			continue
		}

		sr.hashes[r.ContentHash] = struct{}{}
		sr.records = append(sr.records, r)
		added++
	}

	return added, nil
}

// Search ranks the records of the query scope.
func (m *InMemoryStore) Search(_ context.Context, q core.MemoryQuery) ([]core.MemoryRecord, error) {
	m.mu.RLock()

	var candidates []core.MemoryRecord
	if sr := m.scopes[scope{app: q.AppName, user: q.UserID}]; sr != nil {
		candidates = append(candidates, sr.records...)
	}

	m.mu.RUnlock()

	return Rank(candidates, q.Query, q.Limit), nil
}

// Len returns the number of records stored for app and user.
func (m *InMemoryStore) Len(appName, userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sr := m.scopes[scope{app: appName, user: userID}]; sr != nil {
		return len(sr.records)
	}

	return 0
}
