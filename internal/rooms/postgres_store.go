package rooms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/boardroom/pkg/models"
)

const roomsSchemaSQL = `
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	roster TEXT[] NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('open', 'closed', 'degraded')) DEFAULT 'open',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate creates the rooms table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, roomsSchemaSQL); err != nil {
		return fmt.Errorf("migrate rooms schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ensure(ctx context.Context, roomID string, roster []string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO rooms (id, roster, status)
        VALUES ($1, $2, 'open')
        ON CONFLICT (id) DO UPDATE SET updated_at = rooms.updated_at
        RETURNING id, roster, status, created_at, updated_at
    `, roomID, pq.Array(ensureSliceNotNil(roster)))
	return scanRoom(row)
}

func (s *PostgresStore) Get(ctx context.Context, roomID string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, roster, status, created_at, updated_at FROM rooms WHERE id=$1
    `, roomID)
	return scanRoom(row)
}

func (s *PostgresStore) SetStatus(ctx context.Context, roomID string, status models.RoomStatus) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE rooms SET status=$1, updated_at=now() WHERE id=$2
    `, string(status), roomID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]*models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, roster, status, created_at, updated_at
        FROM rooms WHERE status <> 'closed' ORDER BY id
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	// Always return a non-nil slice so JSON encodes as [] instead of null
	out := make([]*models.Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRoom(scanner interface{ Scan(dest ...any) error }) (*models.Room, error) {
	var r models.Room
	var status string
	var roster []string
	if err := scanner.Scan(&r.ID, pq.Array(&roster), &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = models.RoomStatus(status)
	r.Roster = append([]string(nil), roster...)
	return &r, nil
}

// ensureSliceNotNil keeps NOT NULL array columns happy
func ensureSliceNotNil(slice []string) []string {
	if slice == nil {
		return []string{}
	}
	return slice
}
