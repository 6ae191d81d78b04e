// Package roomlock serializes orchestration runs per room through exclusive,
// time-bounded leases. Distinct rooms proceed concurrently; a crashed holder
// frees its room by letting the lease expire.
package roomlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusy means another holder currently owns the room.
	ErrBusy = errors.New("roomlock: room busy")
	// ErrLeaseLost means the lease expired or was taken over before the
	// renew/release call.
	ErrLeaseLost = errors.New("roomlock: lease lost")
)

// Lease is an exclusive claim on a room until ExpiresAt.
type Lease struct {
	ID        string
	RoomID    string
	ExpiresAt time.Time
	TTL       time.Duration
}

type Coordinator interface {
	// Acquire grants a lease on the room or fails with ErrBusy.
	Acquire(ctx context.Context, roomID string, ttl time.Duration) (*Lease, error)
	// Renew extends the lease by its TTL; ErrLeaseLost if no longer held.
	Renew(ctx context.Context, lease *Lease) error
	Release(ctx context.Context, lease *Lease) error
}

// MemoryCoordinator is a threadsafe in-process coordinator for tests and
// single-node runs.
type MemoryCoordinator struct {
	mu     sync.Mutex
	leases map[string]*Lease // roomID -> current lease
	now    func() time.Time
}

func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		leases: make(map[string]*Lease),
		now:    time.Now,
	}
}

// SetClock overrides the time source, for expiry tests.
func (c *MemoryCoordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCoordinator) Acquire(_ context.Context, roomID string, ttl time.Duration) (*Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.leases[roomID]; ok && cur.ExpiresAt.After(c.now()) {
		return nil, ErrBusy
	}
	lease := &Lease{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		ExpiresAt: c.now().Add(ttl),
		TTL:       ttl,
	}
	c.leases[roomID] = lease
	return &Lease{ID: lease.ID, RoomID: roomID, ExpiresAt: lease.ExpiresAt, TTL: ttl}, nil
}

func (c *MemoryCoordinator) Renew(_ context.Context, lease *Lease) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.leases[lease.RoomID]
	if !ok || cur.ID != lease.ID || !cur.ExpiresAt.After(c.now()) {
		return ErrLeaseLost
	}
	cur.ExpiresAt = c.now().Add(lease.TTL)
	lease.ExpiresAt = cur.ExpiresAt
	return nil
}

func (c *MemoryCoordinator) Release(_ context.Context, lease *Lease) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.leases[lease.RoomID]
	if !ok || cur.ID != lease.ID {
		return ErrLeaseLost
	}
	delete(c.leases, lease.RoomID)
	return nil
}
