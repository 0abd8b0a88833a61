// Package sqlite persists memory records in SQLite. Dedup is enforced by a
// unique index on (app_name, user_id, content_hash).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/logging"
	"github.com/hupe1980/recallmesh/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	app_name     TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	author       TEXT NOT NULL,
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	timestamp    TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_hash ON memories (app_name, user_id, content_hash);
`

// Options configures the store.
type Options struct {
	Logger logging.Logger
}

// Store is a core.MemoryStore backed by SQLite.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

var _ core.MemoryStore = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, logger: opts.Logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AddSession inserts the session's records, skipping known content hashes.
func (s *Store) AddSession(ctx context.Context, sess *core.Session) (int, error) {
	records := memory.RecordsFromSession(sess)
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO memories (id, app_name, user_id, session_id, author, content, content_hash, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	added := 0

	for _, r := range records {
		res, err := stmt.ExecContext(ctx, r.ID, r.AppName, r.UserID, r.SessionID, r.Author, r.Content, r.ContentHash,
			r.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return 0, fmt.Errorf("insert memory: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}

		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Debug("memory.sqlite.ingest", "session_id", sess.ID, "candidates", len(records), "added", added)

	return added, nil
}

// Search loads the records of the query scope and ranks them by keyword
// overlap.
func (s *Store) Search(ctx context.Context, q core.MemoryQuery) ([]core.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, app_name, user_id, session_id, author, content, content_hash, timestamp FROM memories WHERE app_name = ? AND user_id = ?`,
		q.AppName, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var candidates []core.MemoryRecord

	for rows.Next() {
		var (
			r  core.MemoryRecord
			ts string
		)

		if err := rows.Scan(&r.ID, &r.AppName, &r.UserID, &r.SessionID, &r.Author, &r.Content, &r.ContentHash, &ts); err != nil {
			return nil, err
		}

		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		candidates = append(candidates, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return memory.Rank(candidates, q.Query, q.Limit), nil
}
