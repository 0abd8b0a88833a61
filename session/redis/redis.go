// Package redis implements a core.SessionStore on Redis so several processes
// can share sessions.
//
// Layout, with <a> = {<app>} and <k> = <user>:<id>:
//
//	<prefix>:<a>:session:<k>          hash   created, updated
//	<prefix>:<a>:state:<k>            hash   session scoped state, JSON values
//	<prefix>:<a>:events:<k>           list   JSON encoded events
//	<prefix>:<a>:index:<user>         set of session ids
//	<prefix>:<a>:appstate             hash of app: state
//	<prefix>:<a>:userstate:<user>     hash of user: state
//
// App, user and session ids are escaped so ':' and braces inside them
// cannot run into a neighbouring component. The braces around the app name
// are a Redis Cluster hash tag: every key of an app maps to one slot, which
// the append script relies on.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/logging"
	"github.com/hupe1980/recallmesh/session"
)

// DefaultPrefix namespaces all keys written by the store.
const DefaultPrefix = "recallmesh"

// appendScript appends an event (ARGV[1], may be empty) and applies scoped
// state deltas atomically. ARGV[3..5] are the pair counts for the session,
// app and user hashes; the pairs follow from ARGV[6].
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if ARGV[1] ~= '' then
	redis.call('RPUSH', KEYS[2], ARGV[1])
end
redis.call('HSET', KEYS[1], 'updated', ARGV[2])
local i = 6
for h = 3, 5 do
	local n = tonumber(ARGV[h])
	for _ = 1, n do
		redis.call('HSET', KEYS[h], ARGV[i], ARGV[i + 1])
		i = i + 2
	end
end
return 1
`)

// Options configures the store.
type Options struct {
	// Prefix must not contain '{' or '}', or it would become the hash tag.
	Prefix string
	Logger logging.Logger
}

// Store is a core.SessionStore backed by Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	logger logging.Logger
}

var _ core.SessionStore = (*Store)(nil)

// New wraps an existing client. The caller owns the client.
func New(rdb redis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{Prefix: DefaultPrefix, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{rdb: rdb, prefix: opts.Prefix, logger: opts.Logger}
}

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

// GetOrCreate uses HSETNX on the session hash, so exactly one caller wins.
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

	created, err := s.rdb.HSetNX(ctx, s.sessionKey(key), "created", now).Result()
	if err != nil {
		return false, fmt.Errorf("create session %s: %w", key, err)
	}

	if !created {
		return false, nil
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.sessionKey(key), "updated", now)
		pipe.SAdd(ctx, s.indexKey(key.AppName, key.UserID), key.ID)

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("index session %s: %w", key, err)
	}

	s.logger.Debug("session.redis.created", "session", key.String())

	return true, nil
}

// Get loads the session with merged scoped state and its events.
func (s *Store) Get(ctx context.Context, key core.SessionKey) (*core.Session, error) {
	var (
		meta     *redis.MapStringStringCmd
		state    *redis.MapStringStringCmd
		appSt    *redis.MapStringStringCmd
		userSt   *redis.MapStringStringCmd
		rawEvent *redis.StringSliceCmd
	)

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, s.sessionKey(key))
		state = pipe.HGetAll(ctx, s.stateKey(key))
		appSt = pipe.HGetAll(ctx, s.appStateKey(key.AppName))
		userSt = pipe.HGetAll(ctx, s.userStateKey(key.AppName, key.UserID))
		rawEvent = pipe.LRange(ctx, s.eventsKey(key), 0, -1)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}

	if len(meta.Val()) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, key)
	}

	sessState, err := decodeHash(state.Val())
	if err != nil {
		return nil, err
	}

	appState, err := decodeHash(appSt.Val())
	if err != nil {
		return nil, err
	}

	userState, err := decodeHash(userSt.Val())
	if err != nil {
		return nil, err
	}

	sess := core.NewSession(key)
	sess.State = session.MergeScoped(sessState, appState, userState)
	sess.Created = parseTime(meta.Val()["created"])
	sess.Updated = parseTime(meta.Val()["updated"])

	for _, raw := range rawEvent.Val() {
		var ev core.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}

		sess.Events = append(sess.Events, ev)
	}

	return sess, nil
}

// AppendEvent pushes ev and applies its state delta in one script call.
func (s *Store) AppendEvent(ctx context.Context, key core.SessionKey, ev core.Event) error {
	ev = ev.WithoutTempState()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return s.apply(ctx, key, string(payload), ev.Actions.StateDelta)
}

// ApplyDelta merges delta into the session and its scopes.
func (s *Store) ApplyDelta(ctx context.Context, key core.SessionKey, delta map[string]any) error {
	return s.apply(ctx, key, "", delta)
}

func (s *Store) apply(ctx context.Context, key core.SessionKey, payload string, delta map[string]any) error {
	scoped := core.SplitStateDelta(delta)

	args := []any{payload, formatTime(time.Now()), len(scoped.Session), len(scoped.App), len(scoped.User)}

	for _, part := range []map[string]any{scoped.Session, scoped.App, scoped.User} {
		pairs, err := encodePairs(part)
		if err != nil {
			return err
		}

		args = append(args, pairs...)
	}

	keys := []string{
		s.sessionKey(key),
		s.eventsKey(key),
		s.stateKey(key),
		s.appStateKey(key.AppName),
		s.userStateKey(key.AppName, key.UserID),
	}

	ok, err := appendScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("append to session %s: %w", key, err)
	}

	if ok == 0 {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, key)
	}

	return nil
}

// List returns the session keys of app and user ordered by id.
func (s *Store) List(ctx context.Context, appName, userID string) ([]core.SessionKey, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey(appName, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	slices.Sort(ids)

	keys := make([]core.SessionKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, core.SessionKey{AppName: appName, UserID: userID, ID: id})
	}

	return keys, nil
}

// Delete removes the session, its state and events.
func (s *Store) Delete(ctx context.Context, key core.SessionKey) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(key), s.stateKey(key), s.eventsKey(key))
		pipe.SRem(ctx, s.indexKey(key.AppName, key.UserID), key.ID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}

	return nil
}

func (s *Store) sessionKey(k core.SessionKey) string { return s.scoped("session", k) }
func (s *Store) stateKey(k core.SessionKey) string   { return s.scoped("state", k) }
func (s *Store) eventsKey(k core.SessionKey) string  { return s.scoped("events", k) }

func (s *Store) scoped(kind string, k core.SessionKey) string {
	return s.appKey(k.AppName, kind, k.UserID, k.ID)
}

func (s *Store) indexKey(app, user string) string { return s.appKey(app, "index", user) }

func (s *Store) appStateKey(app string) string { return s.appKey(app, "appstate") }

func (s *Store) userStateKey(app, user string) string { return s.appKey(app, "userstate", user) }

var componentEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "{", "%7B", "}", "%7D")

// appKey builds <prefix>:{<app>}:<kind>[:<part>...] with escaped components.
func (s *Store) appKey(app, kind string, parts ...string) string {
	var b strings.Builder

	b.WriteString(s.prefix)
	b.WriteString(":{")
	b.WriteString(componentEscaper.Replace(app))
	b.WriteString("}:")
	b.WriteString(kind)

	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(componentEscaper.Replace(p))
	}

	return b.String()
}

func encodePairs(m map[string]any) ([]any, error) {
	out := make([]any, 0, 2*len(m))

	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode state %q: %w", k, err)
		}

		out = append(out, k, string(b))
	}

	return out, nil
}

func decodeHash(h map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(h))

	for k, raw := range h {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode state %q: %w", k, err)
		}

		out[k] = v
	}

	return out, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
