package tool

import (
	"time"

	"github.com/hupe1980/recallmesh/core"
)

// LoadMemoryToolName is the name models use to recall past conversations.
const LoadMemoryToolName = "load_memory"

type loadMemoryTool struct {
	limit int
}

// NewLoadMemoryTool returns the on-demand memory tool. It searches the
// memory store within the app/user scope of the calling session; limit <= 0
// uses the store default.
func NewLoadMemoryTool(limit int) Tool { return &loadMemoryTool{limit: limit} }

func (t *loadMemoryTool) Name() string { return LoadMemoryToolName }

func (t *loadMemoryTool) Description() string {
	return "Loads memories of past conversations with the current user that match the query."
}

func (t *loadMemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "What to recall"},
		},
		"required": []string{"query"},
	}
}

// MemoryHit is one recalled record as seen by the model.
type MemoryHit struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (t *loadMemoryTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	query, ok := stringArg(args, "query")
	if !ok {
		return nil, NewToolError(t.Name(), "field 'query' must be a non-empty string", CodeValidation)
	}

	records, err := tc.SearchMemory(query, t.limit)
	if err != nil {
		return nil, &ToolError{Tool: t.Name(), Message: err.Error(), Code: CodeExecution}
	}

	hits := make([]MemoryHit, 0, len(records))
	for _, r := range records {
		hits = append(hits, MemoryHit{Author: r.Author, Content: r.Content, SessionID: r.SessionID, Timestamp: r.Timestamp})
	}

	tc.LogDebug("tool.load_memory", "query", query, "hits", len(hits))

	return map[string]any{"memories": hits}, nil
}
