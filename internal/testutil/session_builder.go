package testutil

import (
	"github.com/hupe1980/recallmesh/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
//
//	sess := testutil.NewSessionBuilder("sess-1").State("k", "v").Events(ev1, ev2).Build()
type SessionBuilder struct {
	key    core.SessionKey
	state  map[string]any
	events []core.Event
}

// NewSessionBuilder creates a builder for session id under app "app" and user "user".
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{
		key:   core.SessionKey{AppName: "app", UserID: "user", ID: id},
		state: map[string]any{},
	}
}

// App overrides the app name.
func (b *SessionBuilder) App(name string) *SessionBuilder { b.key.AppName = name; return b }

// User overrides the user id.
func (b *SessionBuilder) User(id string) *SessionBuilder { b.key.UserID = id; return b }

// State sets or overwrites a state key/value pair on the resulting session.
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val

	return b
}

// Event appends a single event to the session history.
func (b *SessionBuilder) Event(ev core.Event) *SessionBuilder {
	b.events = append(b.events, ev)

	return b
}

// Events appends multiple events to the session history.
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)

	return b
}

// Key returns the key the built session will carry.
func (b *SessionBuilder) Key() core.SessionKey { return b.key }

// Build returns a *core.Session with pre-populated state and events.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.key)

	for k, v := range b.state {
		s.State[k] = v
	}

	s.Events = append(s.Events, b.events...)

	return s
}
