package roomlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const leaseSchemaSQL = `
CREATE TABLE IF NOT EXISTS room_leases (
	room_id TEXT PRIMARY KEY,
	lease_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`

// PostgresCoordinator implements Coordinator on a shared Postgres table, so
// multiple workers across processes contend on the same leases.
type PostgresCoordinator struct {
	pool *pgxpool.Pool
}

func NewPostgresCoordinator(pool *pgxpool.Pool) *PostgresCoordinator {
	return &PostgresCoordinator{pool: pool}
}

// Migrate creates the lease table if it does not exist.
func (c *PostgresCoordinator) Migrate(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, leaseSchemaSQL); err != nil {
		return fmt.Errorf("migrate lease schema: %w", err)
	}
	return nil
}

func (c *PostgresCoordinator) Acquire(ctx context.Context, roomID string, ttl time.Duration) (*Lease, error) {
	leaseID := uuid.NewString()
	var expiresAt time.Time
	// The conditional update only steals a lease whose holder let it expire.
	err := c.pool.QueryRow(ctx, `
		INSERT INTO room_leases (room_id, lease_id, expires_at)
		VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (room_id) DO UPDATE
			SET lease_id = EXCLUDED.lease_id, expires_at = EXCLUDED.expires_at
			WHERE room_leases.expires_at < now()
		RETURNING expires_at
	`, roomID, leaseID, ttl).Scan(&expiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("acquire lease for room %s: %w", roomID, err)
	}
	return &Lease{ID: leaseID, RoomID: roomID, ExpiresAt: expiresAt, TTL: ttl}, nil
}

func (c *PostgresCoordinator) Renew(ctx context.Context, lease *Lease) error {
	var expiresAt time.Time
	err := c.pool.QueryRow(ctx, `
		UPDATE room_leases SET expires_at = now() + $3::interval
		WHERE room_id = $1 AND lease_id = $2 AND expires_at > now()
		RETURNING expires_at
	`, lease.RoomID, lease.ID, lease.TTL).Scan(&expiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrLeaseLost
		}
		return fmt.Errorf("renew lease for room %s: %w", lease.RoomID, err)
	}
	lease.ExpiresAt = expiresAt
	return nil
}

func (c *PostgresCoordinator) Release(ctx context.Context, lease *Lease) error {
	tag, err := c.pool.Exec(ctx, `
		DELETE FROM room_leases WHERE room_id = $1 AND lease_id = $2
	`, lease.RoomID, lease.ID)
	if err != nil {
		return fmt.Errorf("release lease for room %s: %w", lease.RoomID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}
