package core

import "context"

// RunRequest is one user message submitted to a session.
// An empty AppName means the runner's own app.
type RunRequest struct {
	AppName   string
	UserID    string
	SessionID string
	Content   Content
	// Observers are notified for this run only, after the runner's own.
	Observers []Observer
}

// Runner executes a root agent against a session.
//
// Run returns immediately with a run id, an ordered event stream (closed when
// the run ends) and a terminal error channel carrying at most one error. The
// session must already exist; resolving it is the caller's job.
type Runner interface {
	AppName() string
	Run(ctx context.Context, req RunRequest) (string, <-chan Event, <-chan error, error)
	Cancel(runID string) error
}
