// Package checkpoint persists and restores deliberation state snapshots.
// Snapshots are immutable, sequence numbers per room are strictly increasing
// and gapless, and older snapshots are reclaimed asynchronously.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boardroom/pkg/models"
)

var (
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrCorrupt means the latest snapshot cannot be parsed. It is
	// surfaced for manual intervention and never auto-discarded.
	ErrCorrupt = errors.New("checkpoint: corrupt snapshot")
	// ErrSequenceConflict means another writer committed the same
	// sequence first; the per-room lease should make this impossible.
	ErrSequenceConflict = errors.New("checkpoint: sequence conflict")
)

type Store interface {
	Save(ctx context.Context, cp *models.Checkpoint) error
	Latest(ctx context.Context, roomID string) (*models.Checkpoint, error)
	// Reclaim removes all but the newest keep checkpoints for the room
	// and reports how many were removed.
	Reclaim(ctx context.Context, roomID string, keep int) (int, error)
}

// MemoryStore is a threadsafe in-memory store for tests
type MemoryStore struct {
	mu     sync.RWMutex
	byRoom map[string][]*models.Checkpoint // ascending sequence
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRoom: make(map[string][]*models.Checkpoint),
		now:    time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.byRoom[cp.RoomID]
	if len(chain) > 0 && chain[len(chain)-1].Sequence >= cp.Sequence {
		return ErrSequenceConflict
	}
	saved := *cp
	saved.State = append([]byte(nil), cp.State...)
	saved.CreatedAt = s.now()
	cp.CreatedAt = saved.CreatedAt
	s.byRoom[cp.RoomID] = append(chain, &saved)
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, roomID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.byRoom[roomID]
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	last := chain[len(chain)-1]
	cp := *last
	cp.State = append([]byte(nil), last.State...)
	return &cp, nil
}

func (s *MemoryStore) Reclaim(_ context.Context, roomID string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 1 {
		keep = 1
	}
	chain := s.byRoom[roomID]
	if len(chain) <= keep {
		return 0, nil
	}
	removed := len(chain) - keep
	s.byRoom[roomID] = append([]*models.Checkpoint(nil), chain[removed:]...)
	return removed, nil
}

// Count returns how many checkpoints the room currently holds, for tests.
func (s *MemoryStore) Count(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byRoom[roomID])
}

// Corrupt overwrites the latest snapshot payload, for restore-failure tests.
func (s *MemoryStore) Corrupt(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.byRoom[roomID]
	if len(chain) > 0 {
		chain[len(chain)-1].State = []byte("{not json")
	}
}
