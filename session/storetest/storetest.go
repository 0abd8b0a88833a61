// Package storetest holds a behavioural test suite shared by every
// core.SessionStore implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
)

// Run exercises store semantics against stores produced by newStore. Each
// subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) core.SessionStore) {
	t.Helper()

	ctx := context.Background()
	key := core.SessionKey{AppName: "app", UserID: "u1", ID: "s1"}

	t.Run("CreateThenGet", func(t *testing.T) {
		store := newStore(t)

		sess, err := store.Create(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, sess.Key())

		_, err = store.Create(ctx, key)
		assert.ErrorIs(t, err, core.ErrSessionExists)

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := newStore(t).Get(ctx, key)
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		_, _, err := newStore(t).GetOrCreate(ctx, core.SessionKey{AppName: "app"})
		assert.ErrorIs(t, err, core.ErrInvalidSessionKey)
	})

	t.Run("GetOrCreate", func(t *testing.T) {
		store := newStore(t)

		sess, created, err := store.GetOrCreate(ctx, key)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "s1", sess.ID)

		require.NoError(t, store.AppendEvent(ctx, key, core.NewUserContentEvent("r1", core.NewTextContent("user", "My name is Sam"))))

		again, created, err := store.GetOrCreate(ctx, key)
		require.NoError(t, err)
		assert.False(t, created)
		require.Len(t, again.Events, 1)

		text, _ := again.Events[0].Text()
		assert.Equal(t, "My name is Sam", text)
	})

	t.Run("ConcurrentGetOrCreate", func(t *testing.T) {
		store := newStore(t)

		var (
			wg      sync.WaitGroup
			created atomic.Int32
		)

		for range 16 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, c, err := store.GetOrCreate(ctx, key)
				assert.NoError(t, err)

				if c {
					created.Add(1)
				}
			}()
		}

		wg.Wait()
		assert.Equal(t, int32(1), created.Load())
	})

	t.Run("AppendEventAppliesScopedState", func(t *testing.T) {
		store := newStore(t)
		other := core.SessionKey{AppName: "app", UserID: "u1", ID: "s2"}
		stranger := core.SessionKey{AppName: "app", UserID: "u2", ID: "s3"}

		for _, k := range []core.SessionKey{key, other, stranger} {
			_, err := store.Create(ctx, k)
			require.NoError(t, err)
		}

		ev := core.NewMessageEvent("bot", "noted")
		ev.Actions.StateDelta = map[string]any{
			"topic":        "tides",
			"user:name":    "Sam",
			"app:greeting": "hello",
			"temp:scratch": "x",
		}
		require.NoError(t, store.AppendEvent(ctx, key, ev))

		sess, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "tides", sess.State["topic"])
		assert.Equal(t, "Sam", sess.State["user:name"])
		assert.Equal(t, "hello", sess.State["app:greeting"])
		assert.NotContains(t, sess.State, "temp:scratch")

		events := sess.GetEvents()
		require.Len(t, events, 1)
		assert.NotContains(t, events[0].Actions.StateDelta, "temp:scratch")
		assert.Equal(t, "tides", events[0].Actions.StateDelta["topic"])

		sibling, err := store.Get(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, "Sam", sibling.State["user:name"])
		assert.NotContains(t, sibling.State, "topic")

		foreign, err := store.Get(ctx, stranger)
		require.NoError(t, err)
		assert.NotContains(t, foreign.State, "user:name")
		assert.Equal(t, "hello", foreign.State["app:greeting"])
	})

	t.Run("AppendEventMissingSession", func(t *testing.T) {
		err := newStore(t).AppendEvent(ctx, key, core.NewMessageEvent("bot", "x"))
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("EventsKeepOrderAndContent", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Create(ctx, key)
		require.NoError(t, err)

		call := core.NewFunctionCallEvent("bot", "c1", "lookup", `{"q":"tides"}`)
		resp := core.NewFunctionResponseEvent("bot", "c1", "lookup", map[string]any{"ok": true}, nil)
		final := core.NewMessageEvent("bot", "done")

		for _, ev := range []core.Event{call, resp, final} {
			require.NoError(t, store.AppendEvent(ctx, key, ev))
		}

		sess, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.Len(t, sess.Events, 3)
		assert.Equal(t, call.ID, sess.Events[0].ID)
		assert.Equal(t, "lookup", sess.Events[0].GetFunctionCalls()[0].Name)
		assert.Len(t, sess.Events[1].GetFunctionResponses(), 1)
		assert.True(t, sess.Events[2].IsFinalResponse())
	})

	t.Run("ApplyDelta", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Create(ctx, key)
		require.NoError(t, err)

		require.NoError(t, store.ApplyDelta(ctx, key, map[string]any{"k": "v", "user:lang": "go", "temp:t": 1}))

		sess, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v", sess.State["k"])
		assert.Equal(t, "go", sess.State["user:lang"])
		assert.NotContains(t, sess.State, "temp:t")
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		store := newStore(t)

		for i := range 3 {
			_, err := store.Create(ctx, core.SessionKey{AppName: "app", UserID: "u1", ID: fmt.Sprintf("s%d", i)})
			require.NoError(t, err)
		}

		_, err := store.Create(ctx, core.SessionKey{AppName: "app", UserID: "u2", ID: "x"})
		require.NoError(t, err)

		keys, err := store.List(ctx, "app", "u1")
		require.NoError(t, err)
		require.Len(t, keys, 3)
		assert.Equal(t, "s0", keys[0].ID)

		require.NoError(t, store.Delete(ctx, keys[0]))

		keys, err = store.List(ctx, "app", "u1")
		require.NoError(t, err)
		assert.Len(t, keys, 2)

		_, err = store.Get(ctx, core.SessionKey{AppName: "app", UserID: "u1", ID: "s0"})
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("SeparatorsInKeysDoNotCollide", func(t *testing.T) {
		store := newStore(t)
		owner := core.SessionKey{AppName: "agents", UserID: "alice:x", ID: "s"}
		lookalikes := []core.SessionKey{
			{AppName: "agents:alice", UserID: "x", ID: "s"},
			{AppName: "agents/alice", UserID: "x", ID: "s"},
			{AppName: "agents", UserID: "alice/x", ID: "s"},
			{AppName: "agents", UserID: "alice{x}", ID: "s"},
		}

		_, err := store.Create(ctx, owner)
		require.NoError(t, err)

		ev := core.NewMessageEvent("bot", "noted")
		ev.Actions.StateDelta = map[string]any{"user:pin": "4242", "app:motd": "hi"}
		require.NoError(t, store.AppendEvent(ctx, owner, ev))

		for _, k := range lookalikes {
			sess, err := store.Create(ctx, k)
			require.NoError(t, err, k.String())
			assert.NotContains(t, sess.State, "user:pin", k.String())
			assert.Empty(t, sess.GetEvents(), k.String())

			keys, err := store.List(ctx, k.AppName, k.UserID)
			require.NoError(t, err)
			assert.Equal(t, []core.SessionKey{k}, keys)
		}

		keys, err := store.List(ctx, owner.AppName, owner.UserID)
		require.NoError(t, err)
		assert.Equal(t, []core.SessionKey{owner}, keys)

		sess, err := store.Get(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, "4242", sess.State["user:pin"])
		assert.Len(t, sess.GetEvents(), 1)
	})

	t.Run("ReturnedSessionIsDetached", func(t *testing.T) {
		store := newStore(t)
		sess, err := store.Create(ctx, key)
		require.NoError(t, err)

		sess.SetState("local", true)

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.NotContains(t, got.State, "local")
	})
}
