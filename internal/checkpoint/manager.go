package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/boardroom/internal/metrics"
	"github.com/boardroom/pkg/models"
)

const truncationMarker = "…"

// Manager serializes deliberation state into bounded snapshots and restores
// rooms to their last committed snapshot. Sequence assignment relies on the
// caller holding the room lease: single writer per room, so latest+1 is
// gapless.
type Manager struct {
	store             Store
	sink              metrics.Sink
	maxSnapshotBytes  int
	maxRationaleChars int
	logger            zerolog.Logger
}

func NewManager(store Store, sink metrics.Sink, maxSnapshotBytes, maxRationaleChars int, logger zerolog.Logger) *Manager {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Manager{
		store:             store,
		sink:              sink,
		maxSnapshotBytes:  maxSnapshotBytes,
		maxRationaleChars: maxRationaleChars,
		logger:            logger.With().Str("component", "checkpoint").Logger(),
	}
}

// Commit persists the state as the room's next checkpoint and returns the
// assigned sequence. Oversized snapshots get their rationales truncated
// rather than failing the commit.
func (m *Manager) Commit(ctx context.Context, roomID string, state models.DeliberationState) (int64, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("serialize deliberation state: %w", err)
	}

	if m.maxSnapshotBytes > 0 && len(payload) > m.maxSnapshotBytes {
		truncated := truncateRationales(state, m.maxRationaleChars)
		payload, err = json.Marshal(truncated)
		if err != nil {
			return 0, fmt.Errorf("serialize truncated state: %w", err)
		}
		m.sink.Count("checkpoint.rationale_truncated", 1, map[string]string{"room": roomID})
		m.logger.Warn().
			Str("room", roomID).
			Int("snapshot_bytes", len(payload)).
			Msg("snapshot over size bound, rationales truncated")
	}
	m.sink.Observe("checkpoint.snapshot_bytes", float64(len(payload)), map[string]string{"room": roomID})

	seq := int64(1)
	latest, err := m.store.Latest(ctx, roomID)
	if err == nil {
		seq = latest.Sequence + 1
	} else if err != ErrNotFound {
		return 0, fmt.Errorf("resolve next sequence for room %s: %w", roomID, err)
	}

	cp := &models.Checkpoint{RoomID: roomID, Sequence: seq, State: payload}
	if err := m.store.Save(ctx, cp); err != nil {
		return 0, err
	}
	return seq, nil
}

// Restore returns the room's last committed state and its sequence, or
// ErrNotFound for a room that has never checkpointed. An unparsable snapshot
// surfaces as ErrCorrupt and is left in place for manual inspection.
func (m *Manager) Restore(ctx context.Context, roomID string) (models.DeliberationState, int64, error) {
	cp, err := m.store.Latest(ctx, roomID)
	if err != nil {
		return models.DeliberationState{}, 0, err
	}

	var state models.DeliberationState
	if err := json.Unmarshal(cp.State, &state); err != nil {
		m.logger.Error().
			Str("room", roomID).
			Int64("sequence", cp.Sequence).
			Err(err).
			Msg("latest checkpoint is unparsable")
		return models.DeliberationState{}, cp.Sequence, fmt.Errorf("%w: room %s sequence %d: %v", ErrCorrupt, roomID, cp.Sequence, err)
	}
	return state, cp.Sequence, nil
}

// Reclaim drops all but the newest keep checkpoints for the room. The newest
// one always survives, so an idle room keeps its resting snapshot.
func (m *Manager) Reclaim(ctx context.Context, roomID string, keep int) (int, error) {
	removed, err := m.store.Reclaim(ctx, roomID, keep)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Debug().Str("room", roomID).Int("removed", removed).Msg("reclaimed old checkpoints")
	}
	return removed, nil
}

func truncateRationales(state models.DeliberationState, maxChars int) models.DeliberationState {
	if maxChars <= 0 || state.Proposal == nil {
		return state
	}
	out := state.Clone()
	for i := range out.Proposal.Positions {
		r := []rune(out.Proposal.Positions[i].Rationale)
		if len(r) > maxChars {
			out.Proposal.Positions[i].Rationale = string(r[:maxChars]) + truncationMarker
		}
	}
	return out
}
