package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(window time.Duration, maxReqs int, clock *time.Time) *Memory {
	m := &Memory{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      func() time.Time { return *clock },
	}
	return m
}

func TestMemory_budgetPerKey(t *testing.T) {
	now := time.Now()
	m := newTestMemory(time.Minute, 3, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := m.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "fourth request in the window exceeds the budget")

	// Other keys have their own budgets.
	ok, err = m.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_windowSlides(t *testing.T) {
	now := time.Now()
	m := newTestMemory(time.Minute, 2, &now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := m.Allow(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := m.Allow(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = m.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok, "requests older than the window no longer count")
}
