package session

import (
	"maps"

	"github.com/hupe1980/recallmesh/core"
)

// MergeScoped overlays app and user scoped state onto a session state map.
// Scoped values win over stale copies held in the session itself.
func MergeScoped(sessionState, appState, userState map[string]any) map[string]any {
	out := make(map[string]any, len(sessionState)+len(appState)+len(userState))
	maps.Copy(out, sessionState)
	maps.Copy(out, appState)
	maps.Copy(out, userState)

	return out
}

// scope identifies the user: state of one user of one app.
type scope struct {
	app  string
	user string
}

func userScope(key core.SessionKey) scope { return scope{app: key.AppName, user: key.UserID} }
