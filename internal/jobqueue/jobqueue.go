/*
Package jobqueue provides a River-based background job system for deliberation
housekeeping: checkpoint retention reclamation after a room returns to idle,
and triage bookkeeping for dead-lettered records.

For worker counts and retry policies, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/boardroom/internal/checkpoint"
)

const triageSchemaSQL = `
CREATE TABLE IF NOT EXISTS dead_letter_triage (
	id          BIGSERIAL PRIMARY KEY,
	room_id     TEXT NOT NULL,
	record_id   BIGINT NOT NULL,
	reason      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'resolved', 'discarded')),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ,
	UNIQUE (room_id, record_id)
);
`

// CheckpointReclaimArgs asks for old checkpoint sequences of a room to be
// reclaimed down to the retention window.
type CheckpointReclaimArgs struct {
	RoomID string `json:"room_id"`
}

func (CheckpointReclaimArgs) Kind() string { return "checkpoint_reclaim" }

// CheckpointReclaimWorker trims a room's checkpoint history. The newest
// snapshot always survives; reclamation runs only after a deliberation has
// returned the room to idle, so it never races an active run.
type CheckpointReclaimWorker struct {
	river.WorkerDefaults[CheckpointReclaimArgs]
	checkpoints *checkpoint.Manager
	keep        int
	logger      zerolog.Logger
}

func (w *CheckpointReclaimWorker) Work(ctx context.Context, job *river.Job[CheckpointReclaimArgs]) error {
	removed, err := w.checkpoints.Reclaim(ctx, job.Args.RoomID, w.keep)
	if err != nil {
		return fmt.Errorf("reclaim checkpoints for room %s: %w", job.Args.RoomID, err)
	}
	if removed > 0 {
		w.logger.Info().
			Str("room", job.Args.RoomID).
			Int("removed", removed).
			Int("keep", w.keep).
			Msg("reclaimed old checkpoints")
	}
	return nil
}

// DeadLetterTriageArgs records a dead-lettered log record for manual review.
type DeadLetterTriageArgs struct {
	RoomID   string `json:"room_id"`
	RecordID int64  `json:"record_id"`
	Reason   string `json:"reason"`
}

func (DeadLetterTriageArgs) Kind() string { return "dead_letter_triage" }

// DeadLetterTriageWorker persists an open triage entry so operators can find
// rooms needing intervention without digging through the log tables.
type DeadLetterTriageWorker struct {
	river.WorkerDefaults[DeadLetterTriageArgs]
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func (w *DeadLetterTriageWorker) Work(ctx context.Context, job *river.Job[DeadLetterTriageArgs]) error {
	args := job.Args
	_, err := w.pool.Exec(ctx, `
		INSERT INTO dead_letter_triage (room_id, record_id, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, record_id) DO UPDATE SET reason = EXCLUDED.reason`,
		args.RoomID, args.RecordID, args.Reason)
	if err != nil {
		return fmt.Errorf("record triage entry for room %s record %d: %w", args.RoomID, args.RecordID, err)
	}
	w.logger.Warn().
		Str("room", args.RoomID).
		Int64("record", args.RecordID).
		Str("reason", args.Reason).
		Msg("dead-lettered record registered for triage")
	return nil
}

// JobQueue manages the River client and its workers. It satisfies the intake
// consumer's job-enqueueing interface.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
	logger zerolog.Logger
}

// NewJobQueue creates a job queue on an existing connection pool. River's own
// schema must already be migrated (river migrate-up); the triage table is
// created by Migrate.
func NewJobQueue(pool *pgxpool.Pool, checkpoints *checkpoint.Manager, config *QueueConfig, logger zerolog.Logger) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}
	logger = logger.With().Str("component", "jobqueue").Logger()

	workers := river.NewWorkers()
	river.AddWorker(workers, &CheckpointReclaimWorker{
		checkpoints: checkpoints,
		keep:        config.RetentionKeep,
		logger:      logger,
	})
	river.AddWorker(workers, &DeadLetterTriageWorker{pool: pool, logger: logger})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
		logger: logger,
	}, nil
}

// Migrate creates the triage table.
func (jq *JobQueue) Migrate(ctx context.Context) error {
	if _, err := jq.pool.Exec(ctx, triageSchemaSQL); err != nil {
		return fmt.Errorf("migrate triage schema: %w", err)
	}
	return nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers.
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueueCheckpointReclaim queues a retention pass for a room.
func (jq *JobQueue) EnqueueCheckpointReclaim(ctx context.Context, roomID string) error {
	_, err := jq.client.Insert(ctx, CheckpointReclaimArgs{RoomID: roomID}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue checkpoint reclaim job: %w", err)
	}
	return nil
}

// EnqueueDeadLetterTriage queues a triage entry for a dead-lettered record.
func (jq *JobQueue) EnqueueDeadLetterTriage(ctx context.Context, roomID string, recordID int64, reason string) error {
	_, err := jq.client.Insert(ctx, DeadLetterTriageArgs{RoomID: roomID, RecordID: recordID, Reason: reason}, nil)
	if err != nil {
		return fmt.Errorf("failed to queue dead-letter triage job: %w", err)
	}
	return nil
}
