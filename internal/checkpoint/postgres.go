package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boardroom/pkg/models"
)

const checkpointSchemaSQL = `
CREATE TABLE IF NOT EXISTS room_checkpoints (
	room_id TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	state JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_room_checkpoints_latest
	ON room_checkpoints (room_id, sequence DESC);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the checkpoint table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, checkpointSchemaSQL); err != nil {
		return fmt.Errorf("migrate checkpoint schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO room_checkpoints (room_id, sequence, state)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, cp.RoomID, cp.Sequence, cp.State).Scan(&cp.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSequenceConflict
		}
		return fmt.Errorf("save checkpoint %d for room %s: %w", cp.Sequence, cp.RoomID, err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, roomID string) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{RoomID: roomID}
	err := s.pool.QueryRow(ctx, `
		SELECT sequence, state, created_at
		FROM room_checkpoints
		WHERE room_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, roomID).Scan(&cp.Sequence, &cp.State, &cp.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load latest checkpoint for room %s: %w", roomID, err)
	}
	return cp, nil
}

func (s *PostgresStore) Reclaim(ctx context.Context, roomID string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM room_checkpoints
		WHERE room_id = $1 AND sequence <= (
			SELECT sequence FROM room_checkpoints
			WHERE room_id = $1
			ORDER BY sequence DESC
			OFFSET $2 LIMIT 1
		)
	`, roomID, keep)
	if err != nil {
		return 0, fmt.Errorf("reclaim checkpoints for room %s: %w", roomID, err)
	}
	return int(tag.RowsAffected()), nil
}
