package core

import (
	"context"
	"time"
)

// MemoryRecord is a durable, cross-session fact derived from a past session.
type MemoryRecord struct {
	ID          string    `json:"id"`
	AppName     string    `json:"app_name"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Author      string    `json:"author"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Timestamp   time.Time `json:"timestamp"`
	Score       float64   `json:"score,omitempty"`
}

// MemoryQuery scopes a memory search to one application user.
type MemoryQuery struct {
	AppName string
	UserID  string
	Query   string
	Limit   int
}

// MemoryStore ingests finished sessions and answers free-text queries.
//
// AddSession is idempotent: records are deduplicated by content hash within
// the (app, user) scope and the returned count covers new records only.
type MemoryStore interface {
	AddSession(ctx context.Context, sess *Session) (int, error)
	Search(ctx context.Context, q MemoryQuery) ([]MemoryRecord, error)
}
