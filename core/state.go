package core

import "strings"

// State key prefixes selecting the scope a value is stored under.
const (
	// AppPrefix marks keys shared by every user and session of an app.
	AppPrefix = "app:"
	// UserPrefix marks keys shared by every session of one user.
	UserPrefix = "user:"
	// TempPrefix marks keys that live only for the current run and are never persisted.
	TempPrefix = "temp:"
)

// ScopedDelta is a state delta split by scope.
type ScopedDelta struct {
	App     map[string]any
	User    map[string]any
	Session map[string]any
}

// SplitStateDelta partitions delta by key prefix. Temp keys are dropped. App
// and user keys keep their prefix so merged state looks the same to readers.
func SplitStateDelta(delta map[string]any) ScopedDelta {
	out := ScopedDelta{App: map[string]any{}, User: map[string]any{}, Session: map[string]any{}}

	for k, v := range delta {
		switch {
		case strings.HasPrefix(k, TempPrefix):
			continue
		case strings.HasPrefix(k, AppPrefix):
			out.App[k] = v
		case strings.HasPrefix(k, UserPrefix):
			out.User[k] = v
		default:
			out.Session[k] = v
		}
	}

	return out
}

// PersistentDelta returns delta without temp keys (nil if nothing remains).
func PersistentDelta(delta map[string]any) map[string]any {
	var out map[string]any

	for k, v := range delta {
		if strings.HasPrefix(k, TempPrefix) {
			continue
		}

		if out == nil {
			out = make(map[string]any, len(delta))
		}

		out[k] = v
	}

	return out
}
