package core

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// SessionKey identifies a session within an application and user scope.
type SessionKey struct {
	AppName string `json:"app_name"`
	UserID  string `json:"user_id"`
	ID      string `json:"id"`
}

// Validate reports ErrInvalidSessionKey if any component is empty.
func (k SessionKey) Validate() error {
	if k.AppName == "" || k.UserID == "" || k.ID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidSessionKey, k.String())
	}

	return nil
}

// String renders the key as app/user/id.
func (k SessionKey) String() string { return k.AppName + "/" + k.UserID + "/" + k.ID }

// Session is a conversational container tracking key/value state plus an
// ordered event history. It is safe for concurrent access.
//
// State seen through a Session already merges app: and user: scoped values
// provided by the store.
type Session struct {
	ID       string            `json:"id"`
	AppName  string            `json:"app_name"`
	UserID   string            `json:"user_id"`
	State    map[string]any    `json:"state"`
	Events   []Event           `json:"events"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
	Metadata map[string]string `json:"metadata"`
	mu       sync.RWMutex
}

// NewSession creates an empty session for key.
func NewSession(key SessionKey) *Session {
	now := time.Now().UTC()

	return &Session{
		ID:       key.ID,
		AppName:  key.AppName,
		UserID:   key.UserID,
		State:    map[string]any{},
		Events:   []Event{},
		Created:  now,
		Updated:  now,
		Metadata: map[string]string{},
	}
}

// Key returns the identifying key of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{AppName: s.AppName, UserID: s.UserID, ID: s.ID}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.State[key]

	return v, ok
}

// StateSnapshot returns a copy of the state map.
func (s *Session) StateSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.State)
}

// SetState sets a key/value pair updating the Updated timestamp.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.State[key] = value
	s.Updated = time.Now().UTC()
}

// ApplyStateDelta merges delta into State, skipping temp: keys.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maps.Copy(s.State, PersistentDelta(delta))
	s.Updated = time.Now().UTC()
}

// AddEvent appends ev and applies its persistent state delta.
func (s *Session) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev = ev.WithoutTempState()

	s.Events = append(s.Events, ev)
	maps.Copy(s.State, ev.Actions.StateDelta)
	s.Updated = time.Now().UTC()
}

// GetEvents returns a defensive copy of the full event slice.
func (s *Session) GetEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]Event, len(s.Events))
	copy(events, s.Events)

	return events
}

// LastEvent returns the most recent event, if any.
func (s *Session) LastEvent() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.Events) == 0 {
		return Event{}, false
	}

	return s.Events[len(s.Events)-1], true
}

// GetConversationHistory returns non-partial events with user, assistant or
// tool content, plus compaction events, in order.
func (s *Session) GetConversationHistory() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := map[string]bool{"user": true, "assistant": true, "tool": true}
	res := make([]Event, 0, len(s.Events))

	for _, ev := range s.Events {
		if ev.IsPartial() {
			continue
		}

		if ev.Actions.Compaction != nil || (ev.Content != nil && allowed[ev.Content.Role]) {
			res = append(res, ev)
		}
	}

	return res
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Session{
		ID:       s.ID,
		AppName:  s.AppName,
		UserID:   s.UserID,
		State:    maps.Clone(s.State),
		Events:   make([]Event, len(s.Events)),
		Created:  s.Created,
		Updated:  s.Updated,
		Metadata: maps.Clone(s.Metadata),
	}
	copy(clone.Events, s.Events)

	if clone.State == nil {
		clone.State = map[string]any{}
	}

	if clone.Metadata == nil {
		clone.Metadata = map[string]string{}
	}

	return clone
}

// SessionStore persists sessions and their evolving state / event history.
//
// GetOrCreate must be atomic: concurrent callers on the same key observe
// exactly one created=true result.
type SessionStore interface {
	Create(ctx context.Context, key SessionKey) (*Session, error)
	Get(ctx context.Context, key SessionKey) (*Session, error)
	GetOrCreate(ctx context.Context, key SessionKey) (sess *Session, created bool, err error)
	AppendEvent(ctx context.Context, key SessionKey, ev Event) error
	ApplyDelta(ctx context.Context, key SessionKey, delta map[string]any) error
	List(ctx context.Context, appName, userID string) ([]SessionKey, error)
	Delete(ctx context.Context, key SessionKey) error
}
