package schedlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireExclusive(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "run-1", "worker-a", time.Minute))

	err := l.Acquire(ctx, "run-1", "worker-b", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// Re-acquire by the same token refreshes instead of failing.
	require.NoError(t, l.Acquire(ctx, "run-1", "worker-a", time.Minute))
}

func TestAcquireAfterExpiry(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Acquire(ctx, "run-1", "worker-a", time.Second))

	now = now.Add(2 * time.Second)
	require.NoError(t, l.Acquire(ctx, "run-1", "worker-b", time.Minute))
}

func TestExtendRequiresLiveOwnership(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Acquire(ctx, "run-1", "worker-a", time.Second))
	require.NoError(t, l.Extend(ctx, "run-1", "worker-a", time.Minute))

	assert.ErrorIs(t, l.Extend(ctx, "run-1", "worker-b", time.Minute), ErrNotHeld)

	// The old holder cannot extend an expired lease another worker took.
	now = now.Add(2 * time.Minute)
	require.NoError(t, l.Acquire(ctx, "run-1", "worker-b", time.Minute))
	assert.ErrorIs(t, l.Extend(ctx, "run-1", "worker-a", time.Minute), ErrNotHeld)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "run-1", "worker-a", time.Minute))
	assert.ErrorIs(t, l.Release(ctx, "run-1", "worker-b"), ErrNotHeld)

	require.NoError(t, l.Release(ctx, "run-1", "worker-a"))
	require.NoError(t, l.Acquire(ctx, "run-1", "worker-b", time.Minute))
}
