package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/tracing"
	"github.com/hupe1980/recallmesh/logging"
	"github.com/hupe1980/recallmesh/plugin"
)

// ErrNoQueries is returned by RunSession when called without queries.
var ErrNoQueries = errors.New("no queries")

// noneText is what some models answer when they have nothing to say.
const noneText = "None"

// Options configures an Orchestrator.
type Options struct {
	// AppName defaults to the runner's app.
	AppName string
	UserID  string
	// Output receives the transcript.
	Output io.Writer
	Logger logging.Logger
	// Observers are attached to every run.
	Observers []plugin.Plugin
}

// TurnResult is the outcome of one query.
type TurnResult struct {
	Query string
	RunID string
	// Final is the last printed response text.
	Final string
	// Responses holds every printed response text in order.
	Responses []string
	// Events counts the events received, partial ones included.
	Events int
}

// Result is the outcome of RunSession.
type Result struct {
	Session core.SessionKey
	Created bool
	Turns   []TurnResult
}

// Orchestrator resolves a session and submits queries to a runner one at a
// time, printing the final responses.
type Orchestrator struct {
	runner    core.Runner
	store     core.SessionStore
	appName   string
	userID    string
	out       io.Writer
	logger    logging.Logger
	observers []core.Observer
}

// New creates an orchestrator. store must be the store r reads sessions
// from.
func New(r core.Runner, store core.SessionStore, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		AppName: r.AppName(),
		UserID:  "default",
		Output:  os.Stdout,
		Logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.AppName == "" {
		opts.AppName = r.AppName()
	}

	if opts.Output == nil {
		opts.Output = io.Discard
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	observers := make([]core.Observer, 0, len(opts.Observers))
	for _, p := range opts.Observers {
		observers = append(observers, p)
	}

	return &Orchestrator{
		runner:    r,
		store:     store,
		appName:   opts.AppName,
		userID:    opts.UserID,
		out:       opts.Output,
		logger:    opts.Logger,
		observers: observers,
	}
}

// Key returns the session key used for sessionID.
func (o *Orchestrator) Key(sessionID string) core.SessionKey {
	return core.SessionKey{AppName: o.appName, UserID: o.userID, ID: sessionID}
}

// Resolve returns the session for sessionID, creating it if needed, in a
// single store operation.
func (o *Orchestrator) Resolve(ctx context.Context, sessionID string) (*core.Session, bool, error) {
	sess, created, err := o.store.GetOrCreate(ctx, o.Key(sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("resolve session %s: %w", sessionID, err)
	}

	return sess, created, nil
}

// ResolveLegacy creates the session and falls back to loading it when it
// already exists. Unlike Resolve it is not atomic: a concurrent Delete
// between the two calls surfaces as ErrSessionNotFound.
func (o *Orchestrator) ResolveLegacy(ctx context.Context, sessionID string) (*core.Session, bool, error) {
	key := o.Key(sessionID)

	sess, err := o.store.Create(ctx, key)
	if err == nil {
		return sess, true, nil
	}

	if !errors.Is(err, core.ErrSessionExists) {
		return nil, false, fmt.Errorf("create session %s: %w", sessionID, err)
	}

	sess, err = o.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	return sess, false, nil
}

// RunSession resolves sessionID and runs queries against it in order.
// Processing stops at the first failing query; the result holds the turns
// completed so far.
func (o *Orchestrator) RunSession(ctx context.Context, sessionID string, queries ...string) (*Result, error) {
	if len(queries) == 0 {
		fmt.Fprintln(o.out, "No queries!")
		return &Result{}, ErrNoQueries
	}

	fmt.Fprintf(o.out, "\n ### Session: %s\n", sessionID)

	sess, created, err := o.Resolve(ctx, sessionID)
	if err != nil {
		return &Result{}, err
	}

	res := &Result{Session: sess.Key(), Created: created}

	o.logger.Info("orchestrator.session.resolved", "session_id", sessionID, "user_id", o.userID, "created", created, "events", len(sess.GetEvents()))

	for i, q := range queries {
		turn, err := o.runTurn(ctx, res.Session, q)
		if err != nil {
			return res, fmt.Errorf("query %d: %w", i, err)
		}

		res.Turns = append(res.Turns, turn)
	}

	return res, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, key core.SessionKey, query string) (turn TurnResult, err error) {
	turn.Query = query

	ctx, span := tracing.StartSpan(ctx, "orchestrator.turn",
		attribute.String("session_id", key.ID),
		attribute.String("user_id", key.UserID),
	)
	defer func() { tracing.End(span, err) }()

	fmt.Fprintf(o.out, "\nUser > %s\n", query)

	runID, events, errCh, err := o.runner.Run(ctx, core.RunRequest{
		AppName:   key.AppName,
		UserID:    key.UserID,
		SessionID: key.ID,
		Content:   core.NewTextContent("user", query),
		Observers: o.observers,
	})
	if err != nil {
		return turn, err
	}

	turn.RunID = runID

	for ev := range events {
		turn.Events++

		text, ok := printable(ev)
		if !ok {
			continue
		}

		fmt.Fprintf(o.out, "%s > %s\n", ev.Author, text)

		turn.Final = text
		turn.Responses = append(turn.Responses, text)
	}

	if err := <-errCh; err != nil {
		return turn, err
	}

	o.logger.Debug("orchestrator.turn.complete", "session_id", key.ID, "run_id", runID, "events", turn.Events, "responses", len(turn.Responses))

	return turn, nil
}

// printable returns the text of a final response worth showing.
func printable(ev core.Event) (string, bool) {
	if !ev.IsFinalResponse() {
		return "", false
	}

	text, ok := ev.Text()
	if !ok || text == "" || text == noneText {
		return "", false
	}

	return text, true
}
