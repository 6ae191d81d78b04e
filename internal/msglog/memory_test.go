package msglog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicPerRoomIDs(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	id1, err := l.Append(ctx, "alpha", []byte(`{"content":"a"}`))
	require.NoError(t, err)
	id2, err := l.Append(ctx, "alpha", []byte(`{"content":"b"}`))
	require.NoError(t, err)
	other, err := l.Append(ctx, "beta", []byte(`{"content":"c"}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
	assert.Equal(t, int64(1), other) // per-partition, not global
}

func TestReadGroupDeliversEachRecordOnce(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, "alpha", []byte(`{}`))
		require.NoError(t, err)
	}

	first, err := l.ReadGroup(ctx, "alpha", "g", "c1", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0].ID)
	assert.Equal(t, int64(2), first[1].ID)

	second, err := l.ReadGroup(ctx, "alpha", "g", "c1", 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, int64(3), second[0].ID)

	// nothing new left
	third, err := l.ReadGroup(ctx, "alpha", "g", "c1", 2)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestPendingRedeliversUnackedAfterIdle(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	now := time.Now()
	l.SetClock(func() time.Time { return now })

	_, err := l.Append(ctx, "alpha", []byte(`{}`))
	require.NoError(t, err)
	recs, err := l.ReadGroup(ctx, "alpha", "g", "c1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	// not yet stale
	pending, err := l.Pending(ctx, "alpha", "g", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	now = now.Add(2 * time.Minute)
	pending, err = l.Pending(ctx, "alpha", "g", time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Deliveries)

	// acked records never come back
	require.NoError(t, l.Ack(ctx, "alpha", "g", pending[0].ID))
	now = now.Add(2 * time.Minute)
	pending, err = l.Pending(ctx, "alpha", "g", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAckUnknownRecord(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	err := l.Ack(ctx, "alpha", "g", 99)
	assert.ErrorIs(t, err, ErrNoSuchGroup)

	_, err = l.Append(ctx, "alpha", []byte(`{}`))
	require.NoError(t, err)
	_, err = l.ReadGroup(ctx, "alpha", "g", "c1", 1)
	require.NoError(t, err)

	err = l.Ack(ctx, "alpha", "g", 99)
	assert.ErrorIs(t, err, ErrNoSuchRecord)
}

func TestRouteDeadAcksAndRecordsReason(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	id, err := l.Append(ctx, "alpha", []byte(`{"content":"bad"}`))
	require.NoError(t, err)
	_, err = l.ReadGroup(ctx, "alpha", "g", "c1", 1)
	require.NoError(t, err)

	require.NoError(t, l.RouteDead(ctx, "alpha", "g", id, "orchestration failed repeatedly"))

	dead := l.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "alpha", dead[0].RoomID)
	assert.Equal(t, id, dead[0].RecordID)
	assert.Equal(t, "orchestration failed repeatedly", dead[0].Reason)

	// dead-lettered record does not come back as pending
	pending, err := l.Pending(ctx, "alpha", "g", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRoomsListsPartitions(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	_, err := l.Append(ctx, "beta", []byte(`{}`))
	require.NoError(t, err)
	_, err = l.Append(ctx, "alpha", []byte(`{}`))
	require.NoError(t, err)

	rooms, err := l.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, rooms)
}
