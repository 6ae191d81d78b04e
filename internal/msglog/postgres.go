package msglog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL holds the log tables. Record IDs are assigned from a per-room
// counter row so they stay monotonic per partition rather than globally.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS room_log (
	room_id TEXT NOT NULL,
	record_id BIGINT NOT NULL,
	payload JSONB NOT NULL,
	appended_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, record_id)
);

CREATE TABLE IF NOT EXISTS room_log_cursor (
	room_id TEXT PRIMARY KEY,
	last_record BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS log_deliveries (
	room_id TEXT NOT NULL,
	group_name TEXT NOT NULL,
	record_id BIGINT NOT NULL,
	consumer TEXT NOT NULL,
	deliveries INT NOT NULL DEFAULT 1,
	last_delivery TIMESTAMPTZ NOT NULL DEFAULT now(),
	acked BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (room_id, group_name, record_id)
);

CREATE INDEX IF NOT EXISTS idx_log_deliveries_unacked
	ON log_deliveries (room_id, group_name, last_delivery)
	WHERE NOT acked;

CREATE TABLE IF NOT EXISTS dead_letters (
	id BIGSERIAL PRIMARY KEY,
	room_id TEXT NOT NULL,
	record_id BIGINT NOT NULL,
	payload JSONB NOT NULL,
	reason TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresLog implements Log on a pgx connection pool.
type PostgresLog struct {
	pool *pgxpool.Pool
}

func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// Migrate creates the log tables if they do not exist.
func (l *PostgresLog) Migrate(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate message log schema: %w", err)
	}
	return nil
}

func (l *PostgresLog) Append(ctx context.Context, roomID string, payload []byte) (int64, error) {
	var recordID int64
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO room_log_cursor (room_id, last_record)
			VALUES ($1, 1)
			ON CONFLICT (room_id) DO UPDATE SET last_record = room_log_cursor.last_record + 1
			RETURNING last_record
		`, roomID).Scan(&recordID)
		if err != nil {
			return fmt.Errorf("advance room cursor: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO room_log (room_id, record_id, payload) VALUES ($1, $2, $3)
		`, roomID, recordID, payload)
		if err != nil {
			return fmt.Errorf("append record: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recordID, nil
}

func (l *PostgresLog) ReadGroup(ctx context.Context, roomID, group, consumer string, maxCount int) ([]Record, error) {
	var out []Record
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		// Claim records this group has never seen. The FOR UPDATE SKIP
		// LOCKED keeps two members of the same group from claiming the
		// same record concurrently.
		rows, err := tx.Query(ctx, `
			SELECT r.record_id, r.payload, r.appended_at
			FROM room_log r
			LEFT JOIN log_deliveries d
				ON d.room_id = r.room_id AND d.group_name = $2 AND d.record_id = r.record_id
			WHERE r.room_id = $1 AND d.record_id IS NULL
			ORDER BY r.record_id
			LIMIT $3
			FOR UPDATE OF r SKIP LOCKED
		`, roomID, group, maxCount)
		if err != nil {
			return fmt.Errorf("read undelivered records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec := Record{RoomID: roomID, Deliveries: 1}
			if err := rows.Scan(&rec.ID, &rec.Payload, &rec.AppendedAt); err != nil {
				return fmt.Errorf("scan record: %w", err)
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now()
		for i := range out {
			out[i].LastDelivery = now
			_, err := tx.Exec(ctx, `
				INSERT INTO log_deliveries (room_id, group_name, record_id, consumer, deliveries, last_delivery)
				VALUES ($1, $2, $3, $4, 1, $5)
			`, roomID, group, out[i].ID, consumer, now)
			if err != nil {
				return fmt.Errorf("track delivery: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *PostgresLog) Ack(ctx context.Context, roomID, group string, recordID int64) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE log_deliveries SET acked = TRUE
		WHERE room_id = $1 AND group_name = $2 AND record_id = $3
	`, roomID, group, recordID)
	if err != nil {
		return fmt.Errorf("ack record %d: %w", recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoSuchRecord
	}
	return nil
}

func (l *PostgresLog) Pending(ctx context.Context, roomID, group string, minIdle time.Duration, maxCount int) ([]Record, error) {
	var out []Record
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT r.record_id, r.payload, r.appended_at, d.deliveries
			FROM log_deliveries d
			JOIN room_log r ON r.room_id = d.room_id AND r.record_id = d.record_id
			WHERE d.room_id = $1 AND d.group_name = $2
				AND NOT d.acked
				AND d.last_delivery < now() - $3::interval
			ORDER BY r.record_id
			LIMIT $4
			FOR UPDATE OF d SKIP LOCKED
		`, roomID, group, minIdle, maxCount)
		if err != nil {
			return fmt.Errorf("list pending records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec := Record{RoomID: roomID}
			if err := rows.Scan(&rec.ID, &rec.Payload, &rec.AppendedAt, &rec.Deliveries); err != nil {
				return fmt.Errorf("scan pending record: %w", err)
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now()
		for i := range out {
			out[i].Deliveries++
			out[i].LastDelivery = now
			_, err := tx.Exec(ctx, `
				UPDATE log_deliveries SET deliveries = deliveries + 1, last_delivery = $4
				WHERE room_id = $1 AND group_name = $2 AND record_id = $3
			`, roomID, group, out[i].ID, now)
			if err != nil {
				return fmt.Errorf("bump delivery count: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *PostgresLog) RouteDead(ctx context.Context, roomID, group string, recordID int64, reason string) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var payload []byte
		err := tx.QueryRow(ctx, `
			SELECT payload FROM room_log WHERE room_id = $1 AND record_id = $2
		`, roomID, recordID).Scan(&payload)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNoSuchRecord
			}
			return fmt.Errorf("load record for dead letter: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO dead_letters (room_id, record_id, payload, reason) VALUES ($1, $2, $3, $4)
		`, roomID, recordID, payload, reason)
		if err != nil {
			return fmt.Errorf("write dead letter: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE log_deliveries SET acked = TRUE
			WHERE room_id = $1 AND group_name = $2 AND record_id = $3
		`, roomID, group, recordID)
		if err != nil {
			return fmt.Errorf("ack dead-lettered record: %w", err)
		}
		return nil
	})
}

func (l *PostgresLog) Rooms(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT room_id FROM room_log_cursor ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		rooms = append(rooms, id)
	}
	return rooms, rows.Err()
}
