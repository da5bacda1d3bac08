package chain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestJournalCallCommitsOnSuccess(t *testing.T) {
	j := NewJournal()
	value := 1

	err := j.Call(nil, func() error {
		Set(j, &value, 2)
		Set(j, &value, 3)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, value)
	assert.Zero(t, j.Snapshot(), "committed outermost call must leave an empty journal")
	assert.Zero(t, j.Depth())
}

func TestJournalCallRevertsOnError(t *testing.T) {
	j := NewJournal()
	value := 1
	m := map[string]int{"a": 1}

	err := j.Call(nil, func() error {
		Set(j, &value, 2)
		prev := m["a"]
		j.Append(func() { m["a"] = prev })
		m["a"] = 10
		return errBoom
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, value)
	assert.Equal(t, 1, m["a"])
}

func TestJournalNestedFailureOnlyRevertsInnerCall(t *testing.T) {
	j := NewJournal()
	outer, inner := 0, 0

	err := j.Call(nil, func() error {
		Set(j, &outer, 1)
		innerErr := j.Call(nil, func() error {
			Set(j, &inner, 1)
			return errBoom
		})
		assert.ErrorIs(t, innerErr, errBoom)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, outer)
	assert.Equal(t, 0, inner)
}

func TestJournalOuterFailureRevertsCommittedInnerCall(t *testing.T) {
	j := NewJournal()
	inner := 0

	err := j.Call(nil, func() error {
		require.NoError(t, j.Call(nil, func() error {
			Set(j, &inner, 5)
			return nil
		}))
		return errBoom
	})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, inner)
}

func TestJournalDepthRestoredOnPanic(t *testing.T) {
	j := NewJournal()
	value := 1

	assert.Panics(t, func() {
		_ = j.Call(nil, func() error {
			Set(j, &value, 2)
			panic("unexpected")
		})
	})
	assert.Zero(t, j.Depth())
}

func TestSetOutsideCallIsNotJournaled(t *testing.T) {
	j := NewJournal()
	value := 1
	Set(j, &value, 2)
	assert.Equal(t, 2, value)
	assert.Zero(t, j.Snapshot())
}

func TestGuardRejectsReentry(t *testing.T) {
	j := NewJournal()
	var g Guard

	err := j.Call(&g, func() error {
		assert.True(t, g.Locked())
		return j.Call(&g, func() error { return nil })
	})

	require.ErrorIs(t, err, ErrReentrancy)
	assert.False(t, g.Locked(), "guard must be released on every exit path")

	// released after failure, so a fresh call succeeds
	require.NoError(t, j.Call(&g, func() error { return nil }))
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(100)
	assert.Equal(t, uint64(100), c.Now())

	c.Advance(24 * time.Hour)
	assert.Equal(t, uint64(100+86400), c.Now())

	c.Set(50)
	assert.Equal(t, uint64(100+86400), c.Now(), "clock must not move backwards")
}
