// Package rooms is the registry of boardrooms: their enabled agent roster
// and open/closed/degraded status. Rooms are created implicitly on the first
// message addressed to them.
package rooms

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/boardroom/pkg/models"
)

var ErrNotFound = errors.New("rooms: not found")

type Store interface {
	// Ensure returns the room, creating it with the given roster if absent.
	Ensure(ctx context.Context, roomID string, roster []string) (*models.Room, error)
	Get(ctx context.Context, roomID string) (*models.Room, error)
	SetStatus(ctx context.Context, roomID string, status models.RoomStatus) error
	ListOpen(ctx context.Context) ([]*models.Room, error)
}

// InMemoryStore is a threadsafe in-memory store for tests
type InMemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
	now   func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rooms: make(map[string]*models.Room),
		now:   time.Now,
	}
}

func (s *InMemoryStore) Ensure(_ context.Context, roomID string, roster []string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return cloneRoom(r), nil
	}
	now := s.now()
	r := &models.Room{
		ID:        roomID,
		Roster:    append([]string(nil), roster...),
		Status:    models.RoomOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rooms[roomID] = r
	return cloneRoom(r), nil
}

func (s *InMemoryStore) Get(_ context.Context, roomID string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRoom(r), nil
}

func (s *InMemoryStore) SetStatus(_ context.Context, roomID string, status models.RoomStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) ListOpen(_ context.Context) ([]*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Room, 0)
	for _, r := range s.rooms {
		if r.Status != models.RoomClosed {
			out = append(out, cloneRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneRoom(r *models.Room) *models.Room {
	c := *r
	c.Roster = append([]string(nil), r.Roster...)
	return &c
}
