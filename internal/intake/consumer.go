// Package intake drains each room's log partition under a dedicated
// consumer group and feeds records into the orchestrator. Records are acked
// strictly after the checkpoint commit, so delivery is effectively-once even
// though the log only promises at-least-once.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/boardroom/internal/checkpoint"
	"github.com/boardroom/internal/deliberation"
	"github.com/boardroom/internal/msglog"
	"github.com/boardroom/internal/retry"
	"github.com/boardroom/internal/roomlock"
	"github.com/boardroom/internal/rooms"
	"github.com/boardroom/pkg/models"
)

// Jobs is the background-work surface the consumer hands slow follow-ups to.
type Jobs interface {
	EnqueueDeadLetterTriage(ctx context.Context, roomID string, recordID int64, reason string) error
	EnqueueCheckpointReclaim(ctx context.Context, roomID string) error
}

// NoopJobs satisfies Jobs without a queue, for tests and degraded startup.
type NoopJobs struct{}

func (NoopJobs) EnqueueDeadLetterTriage(context.Context, string, int64, string) error { return nil }
func (NoopJobs) EnqueueCheckpointReclaim(context.Context, string) error               { return nil }

// Config tunes one room consumer.
type Config struct {
	GroupPrefix    string
	ConsumerName   string
	BatchSize      int
	ReclaimIdle    time.Duration
	MaxAttempts    int
	LeaseTTL       time.Duration
	PollsPerSecond float64
	DefaultRoster  []string
	AckRetry       retry.Config
}

// Consumer is one consumer-group member bound to a single room partition.
type Consumer struct {
	roomID      string
	log         msglog.Log
	locks       roomlock.Coordinator
	orch        *deliberation.Orchestrator
	checkpoints *checkpoint.Manager
	registry    rooms.Store
	jobs        Jobs
	cfg         Config
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

func NewConsumer(
	roomID string,
	log msglog.Log,
	locks roomlock.Coordinator,
	orch *deliberation.Orchestrator,
	checkpoints *checkpoint.Manager,
	registry rooms.Store,
	jobs Jobs,
	cfg Config,
	logger zerolog.Logger,
) *Consumer {
	if jobs == nil {
		jobs = NoopJobs{}
	}
	pollsPerSecond := cfg.PollsPerSecond
	if pollsPerSecond <= 0 {
		pollsPerSecond = 4
	}
	return &Consumer{
		roomID:      roomID,
		log:         log,
		locks:       locks,
		orch:        orch,
		checkpoints: checkpoints,
		registry:    registry,
		jobs:        jobs,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(pollsPerSecond), 1),
		logger:      logger.With().Str("component", "intake").Str("room", roomID).Logger(),
	}
}

func (c *Consumer) group() string {
	return fmt.Sprintf("%s:%s", c.cfg.GroupPrefix, c.roomID)
}

// Run polls until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.PollOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error().Err(err).Msg("poll cycle failed")
		}
	}
}

// PollOnce runs one poll cycle: stale pending entries are reclaimed before
// any fresh records are read, so crash recovery always makes progress ahead
// of new work.
func (c *Consumer) PollOnce(ctx context.Context) error {
	records, err := c.log.Pending(ctx, c.roomID, c.group(), c.cfg.ReclaimIdle, c.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("reclaim pending entries: %w", err)
	}

	if remaining := c.cfg.BatchSize - len(records); remaining > 0 {
		fresh, err := c.log.ReadGroup(ctx, c.roomID, c.group(), c.cfg.ConsumerName, remaining)
		if err != nil {
			return fmt.Errorf("read new records: %w", err)
		}
		records = append(records, fresh...)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.process(ctx, rec); err != nil {
			// the record stays un-acked; the next reclaim cycle
			// retries it
			c.logger.Warn().Int64("record", rec.ID).Err(err).Msg("record left for redelivery")
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, rec msglog.Record) error {
	var payload models.MessagePayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		// malformed payloads can never succeed; route them out directly
		reason := fmt.Sprintf("malformed payload: %v", err)
		if dlErr := c.log.RouteDead(ctx, c.roomID, c.group(), rec.ID, reason); dlErr != nil {
			return dlErr
		}
		return c.jobs.EnqueueDeadLetterTriage(ctx, c.roomID, rec.ID, reason)
	}

	msg := models.IncomingMessage{
		RecordID:   rec.ID,
		RoomID:     c.roomID,
		Author:     payload.Author,
		Content:    payload.Content,
		ReceivedAt: rec.AppendedAt,
	}

	room, err := c.registry.Ensure(ctx, c.roomID, c.cfg.DefaultRoster)
	if err != nil {
		return fmt.Errorf("ensure room: %w", err)
	}
	if room.Status == models.RoomClosed {
		c.logger.Info().Int64("record", rec.ID).Msg("dropping message for closed room")
		return c.ack(ctx, rec.ID)
	}

	state, _, err := c.checkpoints.Restore(ctx, c.roomID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		state = models.DeliberationState{RoomID: c.roomID, Phase: models.PhaseIdle}
	case errors.Is(err, checkpoint.ErrCorrupt):
		// fatal for the room until someone looks at the snapshot
		if stErr := c.registry.SetStatus(ctx, c.roomID, models.RoomDegraded); stErr != nil {
			c.logger.Error().Err(stErr).Msg("failed to mark room degraded")
		}
		return err
	case err != nil:
		return fmt.Errorf("restore room state: %w", err)
	}

	// duplicate delivery: the committed state already reflects this record
	// fully processed. An equal id with a non-idle phase means the previous
	// run crashed mid-deliberation; that record must resume, not ack.
	if state.LastRecordID > rec.ID || (state.LastRecordID == rec.ID && state.Phase == models.PhaseIdle) {
		c.logger.Debug().Int64("record", rec.ID).Msg("duplicate delivery, ack only")
		return c.ack(ctx, rec.ID)
	}

	lease, err := c.locks.Acquire(ctx, c.roomID, c.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, roomlock.ErrBusy) {
			// another run owns the room; natural backpressure, the
			// record comes back on the next reclaim cycle
			return nil
		}
		return fmt.Errorf("acquire room lease: %w", err)
	}
	defer func() {
		if relErr := c.locks.Release(context.WithoutCancel(ctx), lease); relErr != nil && !errors.Is(relErr, roomlock.ErrLeaseLost) {
			c.logger.Warn().Err(relErr).Msg("lease release failed")
		}
	}()

	renew := func(ctx context.Context) error {
		return c.locks.Renew(ctx, lease)
	}

	final, err := c.orch.Run(ctx, room, state, msg, renew)
	if err != nil {
		return c.handleRunFailure(ctx, rec, err)
	}

	if err := c.ack(ctx, rec.ID); err != nil {
		// the commit is durable; redelivery will hit the dedupe path
		// and ack then
		return err
	}

	if final.Phase == models.PhaseIdle {
		if err := c.jobs.EnqueueCheckpointReclaim(ctx, c.roomID); err != nil {
			c.logger.Warn().Err(err).Msg("failed to enqueue checkpoint reclaim")
		}
	}
	return nil
}

func (c *Consumer) handleRunFailure(ctx context.Context, rec msglog.Record, runErr error) error {
	// a run aborted by shutdown is not a failed attempt; leave the record
	// for redelivery on the next start
	if errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if errors.Is(runErr, deliberation.ErrCommitFailed) {
		if err := c.registry.SetStatus(ctx, c.roomID, models.RoomDegraded); err != nil {
			c.logger.Error().Err(err).Msg("failed to mark room degraded")
		}
	}

	if rec.Deliveries >= c.cfg.MaxAttempts {
		reason := fmt.Sprintf("orchestration failed after %d attempts: %v", rec.Deliveries, runErr)
		if err := c.log.RouteDead(ctx, c.roomID, c.group(), rec.ID, reason); err != nil {
			return fmt.Errorf("route to dead letter: %w (original: %v)", err, runErr)
		}
		if err := c.registry.SetStatus(ctx, c.roomID, models.RoomDegraded); err != nil {
			c.logger.Error().Err(err).Msg("failed to mark room degraded")
		}
		if err := c.jobs.EnqueueDeadLetterTriage(ctx, c.roomID, rec.ID, reason); err != nil {
			c.logger.Warn().Err(err).Msg("failed to enqueue dead-letter triage")
		}
		c.logger.Error().Int64("record", rec.ID).Err(runErr).Msg("record dead-lettered")
		return nil
	}
	return runErr
}

func (c *Consumer) ack(ctx context.Context, recordID int64) error {
	res := retry.WithBackoff(ctx, c.cfg.AckRetry, c.logger, func() error {
		return c.log.Ack(ctx, c.roomID, c.group(), recordID)
	})
	if !res.Success {
		return fmt.Errorf("ack record %d: %w", recordID, res.LastError)
	}
	return nil
}
