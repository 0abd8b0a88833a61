package plugin

import (
	"github.com/hupe1980/recallmesh/core"
)

// AutoMemory ingests the session into a memory store after every
// successful run. Ingestion is idempotent, so the whole session is handed
// over each time.
type AutoMemory struct {
	Base

	store core.MemoryStore
}

// NewAutoMemory creates the automatic memory strategy for store.
func NewAutoMemory(store core.MemoryStore) *AutoMemory {
	return &AutoMemory{Base: NewBase("auto_memory"), store: store}
}

func (a *AutoMemory) AfterRun(runCtx *core.RunContext, runErr error) {
	if runErr != nil || a.store == nil {
		return
	}

	sess := runCtx.Session

	if runCtx.SessionStore != nil {
		fresh, err := runCtx.SessionStore.Get(runCtx.Context, runCtx.Key)
		if err != nil {
			runCtx.LogWarn("plugin.auto_memory.reload_failed", "session_id", runCtx.SessionID(), "error", err)
			return
		}

		sess = fresh
	}

	added, err := a.store.AddSession(runCtx.Context, sess)
	if err != nil {
		runCtx.LogWarn("plugin.auto_memory.ingest_failed", "session_id", runCtx.SessionID(), "error", err)
		return
	}

	runCtx.LogDebug("plugin.auto_memory.ingested", "session_id", runCtx.SessionID(), "records", added)
}
