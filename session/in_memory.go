package session

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/recallmesh/core"
)

// InMemoryStore is a volatile SessionStore storing sessions in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral demos. Returned sessions are clones, so callers never observe
// later mutations.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[core.SessionKey]*core.Session
	appState  map[string]map[string]any
	userState map[scope]map[string]any
}

var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  map[core.SessionKey]*core.Session{},
		appState:  map[string]map[string]any{},
		userState: map[scope]map[string]any{},
	}
}

// Create inserts a new session or fails with core.ErrSessionExists.
func (s *InMemoryStore) Create(_ context.Context, key core.SessionKey) (*core.Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionExists, key)
	}

	s.sessions[key] = core.NewSession(key)

	return s.snapshotLocked(key), nil
}

// Get returns a clone of the session with scoped state merged in.
func (s *InMemoryStore) Get(_ context.Context, key core.SessionKey) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[key]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, key)
	}

	return s.snapshotLocked(key), nil
}

// GetOrCreate returns the existing session or creates it under one lock.
func (s *InMemoryStore) GetOrCreate(_ context.Context, key core.SessionKey) (*core.Session, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	if _, ok := s.sessions[key]; !ok {
		s.sessions[key] = core.NewSession(key)
		created = true
	}

	return s.snapshotLocked(key), created, nil
}

// AppendEvent appends ev and applies its persistent state delta.
func (s *InMemoryStore) AppendEvent(_ context.Context, key core.SessionKey, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, key)
	}

	scoped := core.SplitStateDelta(ev.Actions.StateDelta)
	s.applyScopedLocked(key, scoped)

	sess.AddEvent(ev)

	// Only session scoped keys live on the session itself.
	for k := range scoped.App {
		delete(sess.State, k)
	}

	for k := range scoped.User {
		delete(sess.State, k)
	}

	return nil
}

// ApplyDelta merges delta into the session and its app and user scopes.
func (s *InMemoryStore) ApplyDelta(_ context.Context, key core.SessionKey, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, key)
	}

	scoped := core.SplitStateDelta(delta)
	s.applyScopedLocked(key, scoped)
	sess.ApplyStateDelta(scoped.Session)

	return nil
}

// List returns the keys of all sessions for app and user ordered by id.
func (s *InMemoryStore) List(_ context.Context, appName, userID string) ([]core.SessionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]core.SessionKey, 0)
	for k := range s.sessions {
		if k.AppName == appName && k.UserID == userID {
			keys = append(keys, k)
		}
	}

	slices.SortFunc(keys, func(a, b core.SessionKey) int { return strings.Compare(a.ID, b.ID) })

	return keys, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *InMemoryStore) Delete(_ context.Context, key core.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)

	return nil
}

func (s *InMemoryStore) applyScopedLocked(key core.SessionKey, d core.ScopedDelta) {
	if len(d.App) > 0 {
		if s.appState[key.AppName] == nil {
			s.appState[key.AppName] = map[string]any{}
		}

		maps.Copy(s.appState[key.AppName], d.App)
	}

	if len(d.User) > 0 {
		us := userScope(key)
		if s.userState[us] == nil {
			s.userState[us] = map[string]any{}
		}

		maps.Copy(s.userState[us], d.User)
	}
}

func (s *InMemoryStore) snapshotLocked(key core.SessionKey) *core.Session {
	clone := s.sessions[key].Clone()
	clone.State = MergeScoped(clone.State, s.appState[key.AppName], s.userState[userScope(key)])

	return clone
}
