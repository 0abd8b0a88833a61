package core

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/recallmesh/logging"
)

// RunContextOptions configures NewRunContext.
type RunContextOptions struct {
	Agent         AgentInfo
	UserContent   Content
	MaxModelCalls int
	Emit          chan<- Event
	Resume        <-chan struct{}
	Session       *Session
	SessionStore  SessionStore
	ArtifactStore ArtifactStore
	MemoryStore   MemoryStore
	Observer      Observer
	Logger        logging.Logger
}

// RunContext is the mutable, per-run execution scope passed to Agent.Run.
//
// State mutations made through SetState accumulate in StateDelta until
// EmitEvent attaches them to an event (the runner persists them) or
// CommitStateDelta writes them directly. Clones share services, the session
// snapshot and the model limiter but own their delta buffers.
type RunContext struct {
	Context       context.Context
	Key           SessionKey
	RunID         string
	Agent         AgentInfo
	UserContent   Content
	Emit          chan<- Event
	Resume        <-chan struct{}
	SessionStore  SessionStore
	ArtifactStore ArtifactStore
	MemoryStore   MemoryStore
	Limiter       *ModelLimiter
	Session       *Session
	StateDelta    map[string]any
	Artifacts     map[string]int
	Branch        string

	observer Observer
	*loggerAdapter
}

// NewRunContext constructs a RunContext for key and runID.
func NewRunContext(ctx context.Context, key SessionKey, runID string, optFns ...func(o *RunContextOptions)) *RunContext {
	opts := RunContextOptions{
		Logger:   logging.NoOpLogger{},
		Observer: NopObserver{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	sess := opts.Session
	if sess == nil {
		sess = NewSession(key)
	}

	return &RunContext{
		Context:       ctx,
		Key:           key,
		RunID:         runID,
		Agent:         opts.Agent,
		UserContent:   opts.UserContent,
		Emit:          opts.Emit,
		Resume:        opts.Resume,
		SessionStore:  opts.SessionStore,
		ArtifactStore: opts.ArtifactStore,
		MemoryStore:   opts.MemoryStore,
		Limiter:       NewModelLimiter(opts.MaxModelCalls),
		Session:       sess,
		StateDelta:    map[string]any{},
		Artifacts:     map[string]int{},
		observer:      opts.Observer,
		loggerAdapter: newLoggerAdapter(opts.Logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// SessionID returns the id of the session being run.
func (rc *RunContext) SessionID() string { return rc.Key.ID }

// Observer returns the lifecycle observer of the run (never nil).
func (rc *RunContext) Observer() Observer { return rc.observer }

// GetState returns a staged value if present, else the session value.
func (rc *RunContext) GetState(k string) (any, bool) {
	if v, ok := rc.StateDelta[k]; ok {
		return v, true
	}

	if rc.Session != nil {
		return rc.Session.GetState(k)
	}

	return nil, false
}

// State returns the session state overlaid with staged changes.
func (rc *RunContext) State() map[string]any {
	out := map[string]any{}
	if rc.Session != nil {
		out = rc.Session.StateSnapshot()
	}

	maps.Copy(out, rc.StateDelta)

	return out
}

// SetState stages a state mutation.
func (rc *RunContext) SetState(k string, v any) { rc.StateDelta[k] = v }

// ApplyStateDelta stages all pairs from d.
func (rc *RunContext) ApplyStateDelta(d map[string]any) { maps.Copy(rc.StateDelta, d) }

// SaveArtifact stores data as a new version of name and stages the version
// for the next emitted event.
func (rc *RunContext) SaveArtifact(name string, data []byte) (int, error) {
	if rc.ArtifactStore == nil {
		return 0, fmt.Errorf("artifact store not configured")
	}

	version, err := rc.ArtifactStore.Save(rc.Context, rc.Key, name, data)
	if err != nil {
		return 0, err
	}

	rc.Artifacts[name] = version

	return version, nil
}

// LoadArtifact returns the given version of name (0 for latest).
func (rc *RunContext) LoadArtifact(name string, version int) ([]byte, error) {
	if rc.ArtifactStore == nil {
		return nil, fmt.Errorf("artifact store not configured")
	}

	return rc.ArtifactStore.Load(rc.Context, rc.Key, name, version)
}

// ListArtifacts returns artifact names stored for the session.
func (rc *RunContext) ListArtifacts() ([]string, error) {
	if rc.ArtifactStore == nil {
		return []string{}, nil
	}

	return rc.ArtifactStore.List(rc.Context, rc.Key)
}

// SearchMemory queries the memory store within the app/user scope of the run.
// A run without a memory store recalls nothing.
func (rc *RunContext) SearchMemory(query string, limit int) ([]MemoryRecord, error) {
	if rc.MemoryStore == nil {
		return []MemoryRecord{}, nil
	}

	return rc.MemoryStore.Search(rc.Context, MemoryQuery{
		AppName: rc.Key.AppName,
		UserID:  rc.Key.UserID,
		Query:   query,
		Limit:   limit,
	})
}

// RefreshSession reloads the session snapshot from the SessionStore.
func (rc *RunContext) RefreshSession() error {
	if rc.SessionStore == nil {
		return fmt.Errorf("session store not configured")
	}

	s, err := rc.SessionStore.Get(rc.Context, rc.Key)
	if err != nil {
		return err
	}

	rc.Session = s

	return nil
}

// CommitStateDelta persists the staged StateDelta then clears the buffer.
func (rc *RunContext) CommitStateDelta() error {
	if len(rc.StateDelta) == 0 {
		return nil
	}

	if rc.SessionStore == nil {
		return fmt.Errorf("session store not configured")
	}

	if err := rc.SessionStore.ApplyDelta(rc.Context, rc.Key, rc.StateDelta); err != nil {
		return err
	}

	if rc.Session != nil {
		rc.Session.ApplyStateDelta(rc.StateDelta)
	}

	rc.StateDelta = map[string]any{}

	return nil
}

// GetSessionHistory returns all historical events for the session.
func (rc *RunContext) GetSessionHistory() []Event {
	if rc.Session == nil {
		return []Event{}
	}

	return rc.Session.GetEvents()
}

// Clone returns a shallow copy with deep-copied delta buffers.
func (rc *RunContext) Clone() *RunContext {
	c := *rc
	c.StateDelta = maps.Clone(rc.StateDelta)
	c.Artifacts = maps.Clone(rc.Artifacts)

	return &c
}

// WithBranch clones the context and sets the Branch label.
func (rc *RunContext) WithBranch(b string) *RunContext {
	c := rc.Clone()
	c.Branch = b

	return c
}

// WithAgent clones the context and sets the executing agent.
func (rc *RunContext) WithAgent(info AgentInfo) *RunContext {
	c := rc.Clone()
	c.Agent = info

	return c
}

// EmitEvent merges staged state and artifact deltas into ev and sends it to
// the runner. Missing invocation id and branch are filled from the context.
// Partial events are never persisted, so staged deltas wait for the next
// complete event.
func (rc *RunContext) EmitEvent(ev Event) error {
	if ev.InvocationID == "" {
		ev.InvocationID = rc.RunID
	}

	if ev.Branch == "" {
		ev.Branch = rc.Branch
	}

	if ev.IsPartial() {
		select {
		case <-rc.Context.Done():
			return rc.Context.Err()
		case rc.Emit <- ev:
			return nil
		}
	}

	staged, artifacts := rc.StateDelta, rc.Artifacts

	if len(staged) > 0 {
		delta := maps.Clone(staged)
		maps.Copy(delta, ev.Actions.StateDelta)
		ev.Actions.StateDelta = delta
	}

	if len(artifacts) > 0 {
		delta := maps.Clone(ev.Actions.ArtifactDelta)
		if delta == nil {
			delta = map[string]int{}
		}

		maps.Copy(delta, artifacts)
		ev.Actions.ArtifactDelta = delta
	}

	// Buffers are swapped before the send: once the runner has the event,
	// the producer may resume and stage again.
	rc.StateDelta = map[string]any{}
	rc.Artifacts = map[string]int{}

	select {
	case <-rc.Context.Done():
		rc.StateDelta, rc.Artifacts = staged, artifacts
		return rc.Context.Err()
	case rc.Emit <- ev:
	}

	return nil
}

// WaitForResume blocks until the runner acknowledges persistence of the last
// non-partial event, or the context is cancelled.
func (rc *RunContext) WaitForResume() error {
	if rc.Resume == nil {
		return nil
	}

	select {
	case <-rc.Resume:
		return nil
	case <-rc.Context.Done():
		return rc.Context.Err()
	}
}
