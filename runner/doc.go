// Package runner executes a root agent against stored sessions.
//
// Run appends the user message to the session, starts the agent and streams
// its events back. Every complete event is persisted (applying its state
// delta) before the caller sees it and before the producing agent resumes,
// so the session always matches the delivered stream. Partial events are
// forwarded but never stored.
//
// Plugins passed through Options observe every run; RunRequest.Observers
// observe a single run. With a CompactionConfig the runner periodically
// appends a summary of older invocations to the session.
package runner
