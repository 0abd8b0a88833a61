package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStateDelta(t *testing.T) {
	d := SplitStateDelta(map[string]any{
		"app:theme":  "dark",
		"user:name":  "Sam",
		"temp:draft": "x",
		"topic":      "go",
	})

	assert.Equal(t, map[string]any{"app:theme": "dark"}, d.App)
	assert.Equal(t, map[string]any{"user:name": "Sam"}, d.User)
	assert.Equal(t, map[string]any{"topic": "go"}, d.Session)
}

func TestPersistentDelta(t *testing.T) {
	assert.Nil(t, PersistentDelta(map[string]any{"temp:a": 1}))
	assert.Nil(t, PersistentDelta(nil))
	assert.Equal(t, map[string]any{"b": 2}, PersistentDelta(map[string]any{"temp:a": 1, "b": 2}))
}

func TestModelLimiter(t *testing.T) {
	l := NewModelLimiter(2)
	assert.NoError(t, l.Acquire())
	assert.NoError(t, l.Acquire())
	assert.ErrorIs(t, l.Acquire(), ErrModelCallLimit)
	assert.Equal(t, 0, l.Remaining())

	unlimited := NewModelLimiter(0)
	for range 10 {
		assert.NoError(t, unlimited.Acquire())
	}
	assert.Equal(t, -1, unlimited.Remaining())
	assert.Equal(t, 10, unlimited.Count())
}
