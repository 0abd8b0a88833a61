package artifact

import "github.com/hupe1980/recallmesh/core"

// ErrNotFound is returned when an artifact (or the requested version of it)
// does not exist for the session. It is core.ErrArtifactNotFound so callers
// depending only on core can match it.
var ErrNotFound = core.ErrArtifactNotFound
