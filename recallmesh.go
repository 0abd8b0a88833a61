// Package recallmesh wires a root agent, the session, memory and artifact
// stores, a runner and an orchestrator into one value. Most applications:
//  1. build a root agent (model, sequential, parallel or fan-out/fan-in)
//  2. create a Mesh via New, optionally overriding the in-memory stores
//  3. call RunSession with a session id and queries, or Run for raw event
//     streams
//
// Durable deployments pass the sqlite or redis session stores and the
// sqlite memory store.
package recallmesh

import (
	"context"
	"io"

	"github.com/hupe1980/recallmesh/artifact"
	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/logging"
	"github.com/hupe1980/recallmesh/memory"
	"github.com/hupe1980/recallmesh/orchestrator"
	"github.com/hupe1980/recallmesh/plugin"
	"github.com/hupe1980/recallmesh/runner"
	"github.com/hupe1980/recallmesh/session"
)

// Options configures a Mesh.
type Options struct {
	AppName string
	UserID  string

	// Stores default to in-memory implementations.
	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore
	MemoryStore   core.MemoryStore

	// Plugins observe every run.
	Plugins []plugin.Plugin
	// Compaction enables event compaction after runs.
	Compaction *runner.CompactionConfig
	// AutoMemory ingests the session into MemoryStore after every run.
	AutoMemory bool

	// Output receives the RunSession transcript (io.Discard if nil).
	Output io.Writer
	Logger logging.Logger
}

// Mesh bundles a runner and an orchestrator over shared stores.
type Mesh struct {
	opts         Options
	runner       *runner.Runner
	orchestrator *orchestrator.Orchestrator
}

// New creates a Mesh running root.
func New(root core.Agent, optFns ...func(o *Options)) *Mesh {
	opts := Options{
		AppName:       runner.DefaultAppName,
		UserID:        "default",
		SessionStore:  session.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
		MemoryStore:   memory.NewInMemoryStore(),
		Output:        io.Discard,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	plugins := append([]plugin.Plugin(nil), opts.Plugins...)
	if opts.AutoMemory {
		plugins = append(plugins, plugin.NewAutoMemory(opts.MemoryStore))
	}

	r := runner.New(root, func(o *runner.Options) {
		o.AppName = opts.AppName
		o.SessionStore = opts.SessionStore
		o.ArtifactStore = opts.ArtifactStore
		o.MemoryStore = opts.MemoryStore
		o.Logger = opts.Logger
		o.Plugins = plugins
		o.Compaction = opts.Compaction
	})

	orch := orchestrator.New(r, opts.SessionStore, func(o *orchestrator.Options) {
		o.UserID = opts.UserID
		o.Output = opts.Output
		o.Logger = opts.Logger
	})

	return &Mesh{opts: opts, runner: r, orchestrator: orch}
}

// Runner returns the underlying runner.
func (m *Mesh) Runner() *runner.Runner { return m.runner }

// Orchestrator returns the underlying orchestrator.
func (m *Mesh) Orchestrator() *orchestrator.Orchestrator { return m.orchestrator }

// SessionStore returns the session store in use.
func (m *Mesh) SessionStore() core.SessionStore { return m.opts.SessionStore }

// MemoryStore returns the memory store in use.
func (m *Mesh) MemoryStore() core.MemoryStore { return m.opts.MemoryStore }

// RunSession resolves sessionID for the configured user and submits queries
// in order.
func (m *Mesh) RunSession(ctx context.Context, sessionID string, queries ...string) (*orchestrator.Result, error) {
	return m.orchestrator.RunSession(ctx, sessionID, queries...)
}

// Run submits one user message to an existing session and returns the event
// stream.
func (m *Mesh) Run(ctx context.Context, sessionID, text string) (string, <-chan core.Event, <-chan error, error) {
	return m.runner.Run(ctx, m.request(sessionID, text))
}

// RunSync is Run that waits for the run to finish and returns its events.
func (m *Mesh) RunSync(ctx context.Context, sessionID, text string) (string, []core.Event, error) {
	return m.runner.RunSync(ctx, m.request(sessionID, text))
}

func (m *Mesh) request(sessionID, text string) core.RunRequest {
	return core.RunRequest{
		UserID:    m.opts.UserID,
		SessionID: sessionID,
		Content:   core.NewTextContent("user", text),
	}
}
