package msglog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog is a threadsafe in-memory log for tests. It mirrors the
// at-least-once semantics of the Postgres implementation, including pending
// redelivery and delivery counting.
type MemoryLog struct {
	mu      sync.Mutex
	records map[string][]Record             // roomID -> append order
	nextID  map[string]int64                // roomID -> next record ID
	groups  map[string]map[string]*delivery // roomID/group key -> recordID -> delivery
	dead    []DeadLetter
	now     func() time.Time
}

type delivery struct {
	recordID     int64
	consumer     string
	deliveries   int
	lastDelivery time.Time
	acked        bool
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		records: make(map[string][]Record),
		nextID:  make(map[string]int64),
		groups:  make(map[string]map[string]*delivery),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for staleness tests.
func (l *MemoryLog) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func groupKey(roomID, group string) string { return roomID + "\x00" + group }

func deliveryKey(recordID int64) string {
	// fixed-width so map iteration order doesn't matter when we sort keys
	const digits = "0123456789"
	buf := make([]byte, 19)
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = digits[recordID%10]
		recordID /= 10
	}
	return string(buf)
}

func (l *MemoryLog) Append(_ context.Context, roomID string, payload []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID[roomID] + 1
	l.nextID[roomID] = id
	rec := Record{
		ID:         id,
		RoomID:     roomID,
		Payload:    append([]byte(nil), payload...),
		AppendedAt: l.now(),
	}
	l.records[roomID] = append(l.records[roomID], rec)
	return id, nil
}

func (l *MemoryLog) ReadGroup(_ context.Context, roomID, group, consumer string, maxCount int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := groupKey(roomID, group)
	if l.groups[key] == nil {
		l.groups[key] = make(map[string]*delivery)
	}
	deliveries := l.groups[key]

	var out []Record
	for _, rec := range l.records[roomID] {
		if len(out) >= maxCount {
			break
		}
		if _, seen := deliveries[deliveryKey(rec.ID)]; seen {
			continue
		}
		d := &delivery{
			recordID:     rec.ID,
			consumer:     consumer,
			deliveries:   1,
			lastDelivery: l.now(),
		}
		deliveries[deliveryKey(rec.ID)] = d
		r := rec
		r.Payload = append([]byte(nil), rec.Payload...)
		r.Deliveries = d.deliveries
		r.LastDelivery = d.lastDelivery
		out = append(out, r)
	}
	return out, nil
}

func (l *MemoryLog) Ack(_ context.Context, roomID, group string, recordID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	deliveries, ok := l.groups[groupKey(roomID, group)]
	if !ok {
		return ErrNoSuchGroup
	}
	d, ok := deliveries[deliveryKey(recordID)]
	if !ok {
		return ErrNoSuchRecord
	}
	d.acked = true
	return nil
}

func (l *MemoryLog) Pending(_ context.Context, roomID, group string, minIdle time.Duration, maxCount int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deliveries, ok := l.groups[groupKey(roomID, group)]
	if !ok {
		return nil, nil
	}

	keys := make([]string, 0, len(deliveries))
	for k := range deliveries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cutoff := l.now().Add(-minIdle)
	var out []Record
	for _, k := range keys {
		if len(out) >= maxCount {
			break
		}
		d := deliveries[k]
		if d.acked || d.lastDelivery.After(cutoff) {
			continue
		}
		rec, ok := l.find(roomID, d.recordID)
		if !ok {
			continue
		}
		d.deliveries++
		d.lastDelivery = l.now()
		rec.Deliveries = d.deliveries
		rec.LastDelivery = d.lastDelivery
		out = append(out, rec)
	}
	return out, nil
}

func (l *MemoryLog) RouteDead(_ context.Context, roomID, group string, recordID int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.find(roomID, recordID)
	if !ok {
		return ErrNoSuchRecord
	}
	l.dead = append(l.dead, DeadLetter{
		RoomID:    roomID,
		RecordID:  recordID,
		Payload:   rec.Payload,
		Reason:    reason,
		CreatedAt: l.now(),
	})
	if deliveries, ok := l.groups[groupKey(roomID, group)]; ok {
		if d, ok := deliveries[deliveryKey(recordID)]; ok {
			d.acked = true
		}
	}
	return nil
}

func (l *MemoryLog) Rooms(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rooms := make([]string, 0, len(l.records))
	for roomID := range l.records {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms, nil
}

// DeadLetters returns a copy of the dead-letter partition, for tests.
func (l *MemoryLog) DeadLetters() []DeadLetter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DeadLetter(nil), l.dead...)
}

func (l *MemoryLog) find(roomID string, recordID int64) (Record, bool) {
	for _, rec := range l.records[roomID] {
		if rec.ID == recordID {
			r := rec
			r.Payload = append([]byte(nil), rec.Payload...)
			return r, true
		}
	}
	return Record{}, false
}
