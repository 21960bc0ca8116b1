package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_CheckLimitIsNonMutating(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxRequests: 3, Window: time.Second}, nil)

	for i := 0; i < 5; i++ {
		decision := l.CheckLimit("https://example.com")
		require.True(t, decision.Allowed)
		require.Equal(t, 3, decision.Remaining)
		require.Equal(t, 0, decision.CurrentCount)
	}
}

func TestLimiter_DomainVariantsShareBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := New(Config{MaxRequests: 2, Window: time.Minute}, nil)

	require.NoError(t, l.WaitForSlot(ctx, "https://www.example.com/a"))
	require.NoError(t, l.WaitForSlot(ctx, "http://example.com"))

	decision := l.CheckLimit("EXAMPLE.com:443/b")
	require.False(t, decision.Allowed)
	require.Equal(t, 0, decision.Remaining)
	require.Equal(t, 2, decision.CurrentCount)

	// An unrelated domain still has a full budget.
	require.True(t, l.CheckLimit("https://other.com").Allowed)
}

func TestLimiter_WindowBudgetBlocksFourthRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := New(Config{MaxRequests: 3, Window: 500 * time.Millisecond}, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.WaitForSlot(ctx, "https://example.com"))
	}
	require.Less(t, time.Since(start), 200*time.Millisecond)

	// The fourth call must be delayed until the window rolls over.
	require.NoError(t, l.WaitForSlot(ctx, "https://example.com"))
	require.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestLimiter_MinDelayAppliesUnderBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := New(Config{MaxRequests: 100, Window: time.Minute, MinDelay: 100 * time.Millisecond}, nil)

	start := time.Now()
	require.NoError(t, l.WaitForSlot(ctx, "https://example.com"))
	require.NoError(t, l.WaitForSlot(ctx, "https://example.com"))
	require.NoError(t, l.WaitForSlot(ctx, "https://example.com"))
	require.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestLimiter_WaitForSlotHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxRequests: 1, Window: time.Minute}, nil)
	require.NoError(t, l.WaitForSlot(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.WaitForSlot(ctx, "https://example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_OtherDomainsProgressWhileOneIsSaturated(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxRequests: 1, Window: time.Minute}, nil)
	require.NoError(t, l.WaitForSlot(context.Background(), "https://slow.com"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		// slow.com is saturated for a minute; fast.com must not be blocked.
		require.NoError(t, l.WaitForSlot(context.Background(), "https://fast.com"))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated domain was blocked by a saturated one")
	}
}
