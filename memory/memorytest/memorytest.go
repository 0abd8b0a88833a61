// Package memorytest holds a behavioural test suite shared by every
// core.MemoryStore implementation.
package memorytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/testutil"
)

// Run exercises ingestion, dedup and search against stores produced by
// newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) core.MemoryStore) {
	t.Helper()

	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	sessionA := func() *core.Session {
		return testutil.NewSessionBuilder("a").User("u1").Events(
			testutil.NewEventBuilder().Author("user").UserText("My favorite color is teal").At(base).Build(),
			testutil.NewEventBuilder().Author("bot").AssistantText("Noted, teal it is.").At(base.Add(time.Second)).Build(),
			testutil.NewEventBuilder().Author("bot").FunctionCall("c1", "lookup", `{}`).At(base.Add(2*time.Second)).Build(),
			testutil.NewEventBuilder().Author("bot").AssistantText("draft").Partial(true).Build(),
		).Build()
	}

	t.Run("CrossSessionRecall", func(t *testing.T) {
		store := newStore(t)

		added, err := store.AddSession(ctx, sessionA())
		require.NoError(t, err)
		assert.Equal(t, 2, added)

		recs, err := store.Search(ctx, core.MemoryQuery{AppName: "app", UserID: "u1", Query: "What is my favorite color?"})
		require.NoError(t, err)
		require.NotEmpty(t, recs)
		assert.Equal(t, "My favorite color is teal", recs[0].Content)
		assert.Equal(t, "a", recs[0].SessionID)
		assert.InDelta(t, 1.0, recs[0].Score, 1e-9)
		assert.NotEmpty(t, recs[0].ID)
		assert.NotEmpty(t, recs[0].ContentHash)
	})

	t.Run("ReingestAddsNothing", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddSession(ctx, sessionA())
		require.NoError(t, err)

		added, err := store.AddSession(ctx, sessionA())
		require.NoError(t, err)
		assert.Zero(t, added)

		// Same text from another session differs only in whitespace and case.
		dup := testutil.NewSessionBuilder("b").User("u1").Events(
			testutil.NewEventBuilder().Author("user").UserText("  my favorite   COLOR is teal ").Build(),
		).Build()

		added, err = store.AddSession(ctx, dup)
		require.NoError(t, err)
		assert.Zero(t, added)
	})

	t.Run("ScopedByUser", func(t *testing.T) {
		store := newStore(t)

		_, err := store.AddSession(ctx, sessionA())
		require.NoError(t, err)

		recs, err := store.Search(ctx, core.MemoryQuery{AppName: "app", UserID: "u2", Query: "favorite color"})
		require.NoError(t, err)
		assert.Empty(t, recs)

		other := testutil.NewSessionBuilder("z").User("u2").Events(
			testutil.NewEventBuilder().Author("user").UserText("My favorite color is teal").Build(),
		).Build()

		added, err := store.AddSession(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, 1, added, "identical text of another user is not a duplicate")
	})

	t.Run("ScopesWithSeparatorsDoNotCollide", func(t *testing.T) {
		store := newStore(t)

		secret := testutil.NewSessionBuilder("s").App("agents").User("alice/x").Events(
			testutil.NewEventBuilder().Author("user").UserText("my secret pin is 4242").Build(),
		).Build()

		added, err := store.AddSession(ctx, secret)
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		for _, sc := range [][2]string{{"agents/alice", "x"}, {"agents|alice", "x"}, {"agents", "alice|x"}, {"agents:alice", "x"}} {
			recs, err := store.Search(ctx, core.MemoryQuery{AppName: sc[0], UserID: sc[1], Query: "secret pin"})
			require.NoError(t, err)
			assert.Empty(t, recs, "scope %s/%s", sc[0], sc[1])
		}

		// Identical text in a colliding-looking scope is still stored there.
		a := testutil.NewSessionBuilder("s").App("a|b").User("c").Events(
			testutil.NewEventBuilder().Author("user").UserText("shared note about tides").Build(),
		).Build()
		b := testutil.NewSessionBuilder("s").App("a").User("b|c").Events(
			testutil.NewEventBuilder().Author("user").UserText("shared note about tides").Build(),
		).Build()

		added, err = store.AddSession(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		added, err = store.AddSession(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		recs, err := store.Search(ctx, core.MemoryQuery{AppName: "a", UserID: "b|c", Query: "tides"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "b|c", recs[0].UserID)
	})

	t.Run("RankingAndLimit", func(t *testing.T) {
		store := newStore(t)

		sess := testutil.NewSessionBuilder("r").User("u1").Events(
			testutil.NewEventBuilder().Author("user").UserText("tides follow the moon").At(base).Build(),
			testutil.NewEventBuilder().Author("bot").AssistantText("the moon orbits earth").At(base.Add(time.Minute)).Build(),
			testutil.NewEventBuilder().Author("bot").AssistantText("moon phases and tides explained").At(base.Add(2*time.Minute)).Build(),
			testutil.NewEventBuilder().Author("bot").AssistantText("nothing relevant").At(base.Add(3*time.Minute)).Build(),
		).Build()

		_, err := store.AddSession(ctx, sess)
		require.NoError(t, err)

		recs, err := store.Search(ctx, core.MemoryQuery{AppName: "app", UserID: "u1", Query: "moon tides"})
		require.NoError(t, err)
		require.Len(t, recs, 3)

		// Full matches first, newest first among equals.
		assert.Equal(t, "moon phases and tides explained", recs[0].Content)
		assert.Equal(t, "tides follow the moon", recs[1].Content)
		assert.Equal(t, "the moon orbits earth", recs[2].Content)
		assert.InDelta(t, 0.5, recs[2].Score, 1e-9)

		limited, err := store.Search(ctx, core.MemoryQuery{AppName: "app", UserID: "u1", Query: "moon tides", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("CompactionSummaryIsIngested", func(t *testing.T) {
		store := newStore(t)

		sess := testutil.NewSessionBuilder("c").User("u1").Events(
			core.NewCompactionEvent("run", core.EventCompaction{Summary: core.NewTextContent("assistant", "User researched volcano formation")}),
		).Build()

		added, err := store.AddSession(ctx, sess)
		require.NoError(t, err)
		assert.Equal(t, 1, added)

		recs, err := store.Search(ctx, core.MemoryQuery{AppName: "app", UserID: "u1", Query: "volcano"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "system", recs[0].Author)
	})
}
