// Package msglog wraps a durable, partitioned, append-only message log with
// consumer-group semantics. It is a pure I/O boundary: delivery is
// at-least-once per group, and deduplication belongs to the intake consumer.
package msglog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoSuchRecord = errors.New("msglog: no such record")
	ErrNoSuchGroup  = errors.New("msglog: no such consumer group")
)

// Record is one log entry as delivered to a consumer group member.
// ID is log-assigned and strictly increasing within a room.
type Record struct {
	ID           int64
	RoomID       string
	Payload      []byte
	AppendedAt   time.Time
	Deliveries   int       // how many times this record has been handed out
	LastDelivery time.Time // when it was last handed out
}

// DeadLetter is a record routed out of normal processing for human triage.
type DeadLetter struct {
	RoomID    string
	RecordID  int64
	Payload   []byte
	Reason    string
	CreatedAt time.Time
}

// Log is the message log contract. Appends are durable before Append
// returns. ReadGroup creates the consumer group on first use. A record read
// but never acked is redelivered through Pending once it has been idle for
// longer than minIdle.
type Log interface {
	Append(ctx context.Context, roomID string, payload []byte) (int64, error)
	ReadGroup(ctx context.Context, roomID, group, consumer string, maxCount int) ([]Record, error)
	Ack(ctx context.Context, roomID, group string, recordID int64) error
	Pending(ctx context.Context, roomID, group string, minIdle time.Duration, maxCount int) ([]Record, error)
	// Route the record to the dead-letter partition and ack it in the group.
	RouteDead(ctx context.Context, roomID, group string, recordID int64, reason string) error
	// Rooms lists the room partitions that currently hold records.
	Rooms(ctx context.Context) ([]string, error)
}
