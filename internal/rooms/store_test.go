package rooms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardroom/pkg/models"
)

func TestEnsureCreatesOnce(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	r, err := store.Ensure(ctx, "demo", []string{"finance", "legal"})
	require.NoError(t, err)
	assert.Equal(t, models.RoomOpen, r.Status)
	assert.Equal(t, []string{"finance", "legal"}, r.Roster)

	// a second ensure with a different roster keeps the original
	again, err := store.Ensure(ctx, "demo", []string{"strategy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "legal"}, again.Roster)
}

func TestSetStatusAndListOpen(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Ensure(ctx, "a", []string{"finance"})
	require.NoError(t, err)
	_, err = store.Ensure(ctx, "b", []string{"finance"})
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, "a", models.RoomClosed))
	require.NoError(t, store.SetStatus(ctx, "b", models.RoomDegraded))

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "b", open[0].ID)
	assert.Equal(t, models.RoomDegraded, open[0].Status)

	assert.ErrorIs(t, store.SetStatus(ctx, "missing", models.RoomClosed), ErrNotFound)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
