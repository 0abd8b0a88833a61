package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hupe1980/recallmesh/agent"
	"github.com/hupe1980/recallmesh/artifact"
	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/tracing"
	"github.com/hupe1980/recallmesh/internal/util"
	"github.com/hupe1980/recallmesh/logging"
	"github.com/hupe1980/recallmesh/memory"
	"github.com/hupe1980/recallmesh/plugin"
	"github.com/hupe1980/recallmesh/session"
)

// DefaultAppName is used when Options.AppName is empty.
const DefaultAppName = "agents"

// Options configures a Runner.
type Options struct {
	AppName string
	// EventBufferSize is the capacity of the event stream returned by Run.
	EventBufferSize int
	// MaxModelCalls bounds model calls per run (<= 0 = unlimited).
	MaxModelCalls int
	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore
	MemoryStore   core.MemoryStore
	Logger        logging.Logger
	// Plugins observe every run in registration order.
	Plugins []plugin.Plugin
	// Compaction enables event compaction after runs.
	Compaction *CompactionConfig
}

// Runner drives a root agent against stored sessions. It persists every
// complete event before the producing agent continues, so a session always
// reflects what callers have seen.
type Runner struct {
	agent         core.Agent
	appName       string
	bufferSize    int
	maxModelCalls int
	sessionStore  core.SessionStore
	artifactStore core.ArtifactStore
	memoryStore   core.MemoryStore
	logger        logging.Logger
	plugins       []plugin.Plugin
	compaction    *CompactionConfig

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a runner for root. Stores default to in-memory
// implementations.
func New(root core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		AppName:         DefaultAppName,
		EventBufferSize: 64,
		MaxModelCalls:   100,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}

	if opts.ArtifactStore == nil {
		opts.ArtifactStore = artifact.NewInMemoryStore()
	}

	if opts.MemoryStore == nil {
		opts.MemoryStore = memory.NewInMemoryStore()
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.AppName == "" {
		opts.AppName = DefaultAppName
	}

	return &Runner{
		agent:         root,
		appName:       opts.AppName,
		bufferSize:    opts.EventBufferSize,
		maxModelCalls: opts.MaxModelCalls,
		sessionStore:  opts.SessionStore,
		artifactStore: opts.ArtifactStore,
		memoryStore:   opts.MemoryStore,
		logger:        opts.Logger,
		plugins:       opts.Plugins,
		compaction:    opts.Compaction,
		active:        make(map[string]context.CancelFunc),
	}
}

// AppName implements core.Runner.
func (r *Runner) AppName() string { return r.appName }

// Agent returns the root agent.
func (r *Runner) Agent() core.Agent { return r.agent }

// SessionStore returns the store sessions are loaded from.
func (r *Runner) SessionStore() core.SessionStore { return r.sessionStore }

// MemoryStore returns the memory store exposed to agents.
func (r *Runner) MemoryStore() core.MemoryStore { return r.memoryStore }

// ArtifactStore returns the artifact store exposed to agents.
func (r *Runner) ArtifactStore() core.ArtifactStore { return r.artifactStore }

// Run implements core.Runner. The session must exist. The user message is
// persisted before Run returns.
func (r *Runner) Run(ctx context.Context, req core.RunRequest) (string, <-chan core.Event, <-chan error, error) {
	appName := req.AppName
	if appName == "" {
		appName = r.appName
	}

	if appName != r.appName {
		return "", nil, nil, fmt.Errorf("runner: app %q does not match runner app %q", appName, r.appName)
	}

	key := core.SessionKey{AppName: appName, UserID: req.UserID, ID: req.SessionID}
	if err := key.Validate(); err != nil {
		return "", nil, nil, err
	}

	sess, err := r.sessionStore.Get(ctx, key)
	if err != nil {
		return "", nil, nil, fmt.Errorf("runner: load session: %w", err)
	}

	runID := util.NewID()

	spanCtx, span := tracing.StartSpan(ctx, "runner.run",
		attribute.String("app", appName),
		attribute.String("session_id", key.ID),
		attribute.String("run_id", runID),
		attribute.String("agent", r.agent.Name()),
	)

	runCtx, cancel := context.WithCancel(spanCtx)

	emit := make(chan core.Event, r.bufferSize)
	resume := make(chan struct{}, 1)

	rc := core.NewRunContext(runCtx, key, runID, func(o *core.RunContextOptions) {
		o.Agent = core.InfoOf(r.agent)
		o.UserContent = req.Content
		o.MaxModelCalls = r.maxModelCalls
		o.Emit = emit
		o.Resume = resume
		o.Session = sess
		o.SessionStore = r.sessionStore
		o.ArtifactStore = r.artifactStore
		o.MemoryStore = r.memoryStore
		o.Observer = r.observers(req.Observers)
		o.Logger = r.logger
	})

	userEvent := core.NewUserContentEvent(runID, req.Content)
	if err := r.sessionStore.AppendEvent(rc.Context, key, userEvent); err != nil {
		cancel()
		tracing.End(span, err)

		return "", nil, nil, fmt.Errorf("runner: append user event: %w", err)
	}

	rc.Session.AddEvent(userEvent)

	r.mu.Lock()
	r.active[runID] = cancel
	r.mu.Unlock()

	rc.LogInfo("runner.run.start", "session_id", key.ID, "user_id", key.UserID, "run_id", runID, "agent", r.agent.Name())

	events := make(chan core.Event, r.bufferSize)
	errCh := make(chan error, 1)
	agentErr := make(chan error, 1)

	go func() {
		defer close(emit)

		agentErr <- r.runAgent(rc)
	}()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.active, runID)
			r.mu.Unlock()

			cancel()
			close(events)
			close(errCh)
		}()

		persistErr := r.process(rc, cancel, emit, resume, events)

		runErr := <-agentErr
		if persistErr != nil {
			runErr = errors.Join(runErr, persistErr)
		}

		if runErr == nil && r.compaction != nil {
			r.compact(rc, events)
		}

		rc.Observer().AfterRun(rc, runErr)

		tracing.End(span, runErr)

		if runErr != nil {
			rc.LogError("runner.run.error", "session_id", key.ID, "run_id", runID, "error", runErr)
			errCh <- fmt.Errorf("run %s: %w", runID, runErr)

			return
		}

		rc.LogInfo("runner.run.complete", "session_id", key.ID, "run_id", runID)
	}()

	return runID, events, errCh, nil
}

// RunSync runs req to completion and returns every event.
func (r *Runner) RunSync(ctx context.Context, req core.RunRequest) (string, []core.Event, error) {
	runID, events, errCh, err := r.Run(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}

	if err := <-errCh; err != nil {
		return runID, out, err
	}

	return runID, out, nil
}

// Cancel implements core.Runner.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, ok := r.active[runID]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

func (r *Runner) observers(extra []core.Observer) core.Observer {
	m := plugin.NewManager(r.plugins...)

	for i, o := range extra {
		if o != nil {
			m.Register(plugin.Wrap(fmt.Sprintf("observer-%d", i), o))
		}
	}

	return m
}

func (r *Runner) runAgent(rc *core.RunContext) error {
	if err := rc.Observer().BeforeRun(rc); err != nil {
		return fmt.Errorf("before run: %w", err)
	}

	return agent.RunChild(rc, r.agent)
}

// process persists complete events, forwards every event to the caller and
// releases the producer. After a failure it keeps draining emit until the
// agent has stopped.
func (r *Runner) process(rc *core.RunContext, cancel context.CancelFunc, emit <-chan core.Event, resume chan<- struct{}, out chan<- core.Event) error {
	var failed error

	for ev := range emit {
		if failed != nil {
			continue
		}

		if !ev.IsPartial() {
			if err := r.sessionStore.AppendEvent(rc.Context, rc.Key, ev); err != nil {
				failed = fmt.Errorf("persist event %s: %w", ev.ID, err)
				cancel()

				continue
			}
		}

		rc.Observer().OnEvent(rc, ev)

		select {
		case out <- ev:
		case <-rc.Done():
			failed = rc.Err()
			continue
		}

		rc.LogDebug("runner.event.delivered", "event_id", ev.ID, "author", ev.Author, "partial", ev.IsPartial(), "session_id", rc.Key.ID)

		if !ev.IsPartial() {
			select {
			case resume <- struct{}{}:
			default:
			}
		}
	}

	return failed
}
