package intake

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/boardroom/internal/msglog"
)

// Runner keeps one consumer goroutine alive per room partition. Rooms are
// discovered by scanning the log, so a partition created by the API surface
// picks up a consumer within one scan interval.
type Runner struct {
	log          msglog.Log
	newConsumer  func(roomID string) *Consumer
	scanInterval time.Duration
	logger       zerolog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewRunner(log msglog.Log, newConsumer func(roomID string) *Consumer, scanInterval time.Duration, logger zerolog.Logger) *Runner {
	return &Runner{
		log:          log,
		newConsumer:  newConsumer,
		scanInterval: scanInterval,
		logger:       logger.With().Str("component", "intake-runner").Logger(),
		active:       make(map[string]struct{}),
	}
}

// Run blocks until the context is cancelled, then waits for all room
// consumers to stop.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	r.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

func (r *Runner) scan(ctx context.Context) {
	roomIDs, err := r.log.Rooms(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("room scan failed")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, roomID := range roomIDs {
		if _, running := r.active[roomID]; running {
			continue
		}
		r.active[roomID] = struct{}{}
		consumer := r.newConsumer(roomID)
		r.wg.Add(1)
		go func(roomID string) {
			defer r.wg.Done()
			r.logger.Info().Str("room", roomID).Msg("starting room consumer")
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Str("room", roomID).Err(err).Msg("room consumer stopped")
			}
			r.mu.Lock()
			delete(r.active, roomID)
			r.mu.Unlock()
		}(roomID)
	}
}
