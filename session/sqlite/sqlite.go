// Package sqlite implements a durable core.SessionStore on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/logging"
	"github.com/hupe1980/recallmesh/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	id         TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (app_name, user_id, id)
);

CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	app_name   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	session_id TEXT NOT NULL,
	id         TEXT NOT NULL,
	author     TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	payload    TEXT NOT NULL,
	FOREIGN KEY (app_name, user_id, session_id) REFERENCES sessions (app_name, user_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events (app_name, user_id, session_id, seq);

CREATE TABLE IF NOT EXISTS app_states (
	app_name TEXT PRIMARY KEY,
	state    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS user_states (
	app_name TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	state    TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (app_name, user_id)
);
`

// Options configures the store.
type Options struct {
	Logger logging.Logger
}

// Store is a core.SessionStore backed by a SQLite database file. Writes are
// serialized through a single connection.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

var _ core.SessionStore = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
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

	opts.Logger.Debug("session.sqlite.open", "path", path)

	return &Store{db: db, logger: opts.Logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new session or fails with core.ErrSessionExists.
func (s *Store) Create(ctx context.Context, key core.SessionKey) (*core.Session, error) {
	created, err := s.insert(ctx, key)
	if err != nil {
		return nil, err
	}

	if !created {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionExists, key)
	}

	return s.Get(ctx, key)
}

// GetOrCreate relies on INSERT OR IGNORE so creation is decided by the
// database.
func (s *Store) GetOrCreate(ctx context.Context, key core.SessionKey) (*core.Session, bool, error) {
	created, err := s.insert(ctx, key)
	if err != nil {
		return nil, false, err
	}

	sess, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}

	return sess, created, nil
}

func (s *Store) insert(ctx context.Context, key core.SessionKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	now := formatTime(time.Now())

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (app_name, user_id, id, state, created_at, updated_at) VALUES (?, ?, ?, '{}', ?, ?)`,
		key.AppName, key.UserID, key.ID, now, now)
	if err != nil {
		return false, fmt.Errorf("insert session %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// Get loads the session, its events and merged scoped state.
func (s *Store) Get(ctx context.Context, key core.SessionKey) (*core.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		rawState         string
		created, updated string
	)

	err = tx.QueryRowContext(ctx,
		`SELECT state, created_at, updated_at FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		key.AppName, key.UserID, key.ID).Scan(&rawState, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}

	sessState, err := decodeState(rawState)
	if err != nil {
		return nil, err
	}

	appState, err := scopedState(ctx, tx, `SELECT state FROM app_states WHERE app_name = ?`, key.AppName)
	if err != nil {
		return nil, err
	}

	userState, err := scopedState(ctx, tx, `SELECT state FROM user_states WHERE app_name = ? AND user_id = ?`, key.AppName, key.UserID)
	if err != nil {
		return nil, err
	}

	sess := core.NewSession(key)
	sess.State = session.MergeScoped(sessState, appState, userState)
	sess.Created = parseTime(created)
	sess.Updated = parseTime(updated)

	rows, err := tx.QueryContext(ctx,
		`SELECT payload FROM events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY seq`,
		key.AppName, key.UserID, key.ID)
	if err != nil {
		return nil, fmt.Errorf("load events %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}

		sess.Events = append(sess.Events, ev)
	}

	return sess, rows.Err()
}

// AppendEvent stores ev and applies its state delta in one transaction.
func (s *Store) AppendEvent(ctx context.Context, key core.SessionKey, ev core.Event) error {
	ev = ev.WithoutTempState()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := applyDeltaTx(ctx, tx, key, ev.Actions.StateDelta); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (app_name, user_id, session_id, id, author, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			key.AppName, key.UserID, key.ID, ev.ID, ev.Author, formatTime(ev.Timestamp), string(payload))
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		return nil
	})
}

// ApplyDelta merges delta into the session and its scopes.
func (s *Store) ApplyDelta(ctx context.Context, key core.SessionKey, delta map[string]any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return applyDeltaTx(ctx, tx, key, delta)
	})
}

// List returns session keys for app and user ordered by id.
func (s *Store) List(ctx context.Context, appName, userID string) ([]core.SessionKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE app_name = ? AND user_id = ? ORDER BY id`, appName, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	keys := make([]core.SessionKey, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		keys = append(keys, core.SessionKey{AppName: appName, UserID: userID, ID: id})
	}

	return keys, rows.Err()
}

// Delete removes the session and, through the foreign key, its events.
func (s *Store) Delete(ctx context.Context, key core.SessionKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`, key.AppName, key.UserID, key.ID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}

	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func applyDeltaTx(ctx context.Context, tx *sql.Tx, key core.SessionKey, delta map[string]any) error {
	var raw string

	err := tx.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		key.AppName, key.UserID, key.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, key)
	}

	if err != nil {
		return err
	}

	scoped := core.SplitStateDelta(delta)

	state, err := decodeState(raw)
	if err != nil {
		return err
	}

	maps.Copy(state, scoped.Session)

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`,
		string(encoded), formatTime(time.Now()), key.AppName, key.UserID, key.ID); err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	if len(scoped.App) > 0 {
		if err := mergeScoped(ctx, tx, scoped.App,
			`SELECT state FROM app_states WHERE app_name = ?`,
			`INSERT INTO app_states (app_name, state) VALUES (?, ?) ON CONFLICT (app_name) DO UPDATE SET state = excluded.state`,
			key.AppName); err != nil {
			return err
		}
	}

	if len(scoped.User) > 0 {
		if err := mergeScoped(ctx, tx, scoped.User,
			`SELECT state FROM user_states WHERE app_name = ? AND user_id = ?`,
			`INSERT INTO user_states (app_name, user_id, state) VALUES (?, ?, ?) ON CONFLICT (app_name, user_id) DO UPDATE SET state = excluded.state`,
			key.AppName, key.UserID); err != nil {
			return err
		}
	}

	return nil
}

func mergeScoped(ctx context.Context, tx *sql.Tx, delta map[string]any, selectQ, upsertQ string, args ...any) error {
	state, err := scopedState(ctx, tx, selectQ, args...)
	if err != nil {
		return err
	}

	maps.Copy(state, delta)

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode scoped state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, upsertQ, append(args, string(encoded))...); err != nil {
		return fmt.Errorf("upsert scoped state: %w", err)
	}

	return nil
}

func scopedState(ctx context.Context, tx *sql.Tx, q string, args ...any) (map[string]any, error) {
	var raw string

	err := tx.QueryRowContext(ctx, q, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("load scoped state: %w", err)
	}

	return decodeState(raw)
}

func decodeState(raw string) (map[string]any, error) {
	state := map[string]any{}
	if raw == "" {
		return state, nil
	}

	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	return state, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
