package core

import "errors"

var (
	// ErrSessionExists is returned by SessionStore.Create when the key is taken.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when no session exists for a key.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionKey is returned when a key lacks app, user or session id.
	ErrInvalidSessionKey = errors.New("invalid session key")

	// ErrModelCallLimit is returned once a run exceeds its model call budget.
	ErrModelCallLimit = errors.New("model call limit exceeded")

	// ErrArtifactNotFound is returned when an artifact (or version) does not exist.
	ErrArtifactNotFound = errors.New("artifact not found")
)
