package core

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

var testKey = SessionKey{AppName: "app", UserID: "u1", ID: "s1"}

// fakeSessionStore records applied deltas and appended events.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[SessionKey]*Session
	applied  []map[string]any
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[SessionKey]*Session{}}
}

func (s *fakeSessionStore) Create(_ context.Context, key SessionKey) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; ok {
		return nil, ErrSessionExists
	}

	s.sessions[key] = NewSession(key)

	return s.sessions[key].Clone(), nil
}

func (s *fakeSessionStore) Get(_ context.Context, key SessionKey) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return sess.Clone(), nil
}

func (s *fakeSessionStore) GetOrCreate(ctx context.Context, key SessionKey) (*Session, bool, error) {
	if sess, err := s.Get(ctx, key); err == nil {
		return sess, false, nil
	}

	sess, err := s.Create(ctx, key)

	return sess, err == nil, err
}

func (s *fakeSessionStore) AppendEvent(_ context.Context, key SessionKey, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return ErrSessionNotFound
	}

	sess.AddEvent(ev)

	return nil
}

func (s *fakeSessionStore) ApplyDelta(_ context.Context, key SessionKey, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applied = append(s.applied, maps.Clone(delta))
	if sess, ok := s.sessions[key]; ok {
		sess.ApplyStateDelta(delta)
	}

	return nil
}

func (s *fakeSessionStore) List(_ context.Context, _, _ string) ([]SessionKey, error) {
	return nil, nil
}

func (s *fakeSessionStore) Delete(_ context.Context, key SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)

	return nil
}

// fakeArtifactStore keeps every version in memory.
type fakeArtifactStore struct {
	mu       sync.Mutex
	versions map[string][][]byte
}

func (a *fakeArtifactStore) Save(_ context.Context, _ SessionKey, name string, data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.versions == nil {
		a.versions = map[string][][]byte{}
	}

	a.versions[name] = append(a.versions[name], append([]byte(nil), data...))

	return len(a.versions[name]), nil
}

func (a *fakeArtifactStore) Load(_ context.Context, _ SessionKey, name string, version int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	vs := a.versions[name]
	if len(vs) == 0 {
		return nil, ErrArtifactNotFound
	}

	if version == 0 {
		version = len(vs)
	}

	if version < 1 || version > len(vs) {
		return nil, fmt.Errorf("%w: %s@%d", ErrArtifactNotFound, name, version)
	}

	return vs[version-1], nil
}

func (a *fakeArtifactStore) List(_ context.Context, _ SessionKey) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.versions))
	for n := range a.versions {
		names = append(names, n)
	}

	return names, nil
}

func (a *fakeArtifactStore) Delete(_ context.Context, _ SessionKey, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.versions, name)

	return nil
}

// fakeMemoryStore returns canned records and captures the last query.
type fakeMemoryStore struct {
	records []MemoryRecord
	last    MemoryQuery
}

func (m *fakeMemoryStore) AddSession(_ context.Context, sess *Session) (int, error) {
	return len(sess.Events), nil
}

func (m *fakeMemoryStore) Search(_ context.Context, q MemoryQuery) ([]MemoryRecord, error) {
	m.last = q

	return m.records, nil
}

func newTestRunContext(optFns ...func(o *RunContextOptions)) (*RunContext, chan Event) {
	emit := make(chan Event, 16)

	fns := append([]func(o *RunContextOptions){func(o *RunContextOptions) {
		o.Agent = AgentInfo{Name: "tester", Type: "model"}
		o.UserContent = NewTextContent("user", "hi")
		o.Emit = emit
		o.SessionStore = newFakeSessionStore()
		o.ArtifactStore = &fakeArtifactStore{}
	}}, optFns...)

	return NewRunContext(context.Background(), testKey, "run-1", fns...), emit
}
