package roomlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusivePerRoom(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "demo", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, lease.ID)

	_, err = c.Acquire(ctx, "demo", time.Minute)
	assert.ErrorIs(t, err, ErrBusy)

	// a different room is unaffected
	other, err := c.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, other))

	require.NoError(t, c.Release(ctx, lease))
	_, err = c.Acquire(ctx, "demo", time.Minute)
	require.NoError(t, err)
}

func TestExpiredLeaseCanBeStolen(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	stale, err := c.Acquire(ctx, "demo", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	fresh, err := c.Acquire(ctx, "demo", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, fresh.ID)

	// the stale holder can no longer renew or release
	assert.ErrorIs(t, c.Renew(ctx, stale), ErrLeaseLost)
	assert.ErrorIs(t, c.Release(ctx, stale), ErrLeaseLost)
}

func TestRenewExtendsLease(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	lease, err := c.Acquire(ctx, "demo", time.Minute)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	require.NoError(t, c.Renew(ctx, lease))
	assert.Equal(t, now.Add(time.Minute), lease.ExpiresAt)

	// expired leases cannot be renewed
	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, c.Renew(ctx, lease), ErrLeaseLost)
}
