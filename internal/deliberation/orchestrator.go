// Package deliberation runs the turn-based deliberation state machine:
// Idle → ProposalOpen → CollectingPositions → Resolving → terminal → Idle.
// Every transition is committed as a checkpoint before it counts, so a
// crashed run resumes exactly where its last commit left it.
package deliberation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/boardroom/internal/agents"
	"github.com/boardroom/internal/checkpoint"
	"github.com/boardroom/internal/metrics"
	"github.com/boardroom/internal/retry"
	"github.com/boardroom/pkg/models"
)

// ErrCommitFailed wraps a checkpoint commit that exhausted its retry budget.
// The run is aborted and the room should be marked degraded by the caller.
var ErrCommitFailed = fmt.Errorf("deliberation: checkpoint commit failed")

const timeoutRationale = "no response within deadline"

// Config bundles the orchestrator's tunables.
type Config struct {
	Resolution   ResolutionConfig
	MaxTurns     int
	AgentTimeout time.Duration
	CommitRetry  retry.Config
}

// TurnHook runs at each turn boundary, before the next turn is dispatched.
// Returning an error cancels the run cooperatively; in-flight agent calls
// are never aborted mid-turn.
type TurnHook func(ctx context.Context) error

// Orchestrator sequences agent turns for one room at a time. It owns no
// state of its own; everything flows through the state value it is given
// and the checkpoints it commits.
type Orchestrator struct {
	pool        *agents.Pool
	checkpoints *checkpoint.Manager
	sink        metrics.Sink
	cfg         Config
	logger      zerolog.Logger
}

func New(pool *agents.Pool, checkpoints *checkpoint.Manager, sink metrics.Sink, cfg Config, logger zerolog.Logger) *Orchestrator {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Orchestrator{
		pool:        pool,
		checkpoints: checkpoints,
		sink:        sink,
		cfg:         cfg,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run deliberates msg for the room, starting from (or resuming) state, and
// returns the final committed state. The caller must hold the room's lease
// and must only ack the message after Run returns without error.
func (o *Orchestrator) Run(ctx context.Context, room *models.Room, state models.DeliberationState, msg models.IncomingMessage, hook TurnHook) (models.DeliberationState, error) {
	log := o.logger.With().Str("room", room.ID).Int64("record", msg.RecordID).Logger()

	st := state.Clone()
	st.RoomID = room.ID
	if st.Phase == "" {
		st.Phase = models.PhaseIdle
	}

	if st.Phase == models.PhaseIdle {
		st = o.openProposal(st, msg)
		if err := o.commit(ctx, &st); err != nil {
			return state, err
		}
		log.Info().Str("proposal", st.Proposal.ID).Msg("proposal opened")
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if hook != nil {
			if err := hook(ctx); err != nil {
				return st, fmt.Errorf("run cancelled at turn boundary: %w", err)
			}
		}

		if st.Phase == models.PhaseProposalOpen {
			st = o.dispatch(room, st)
			if err := o.commit(ctx, &st); err != nil {
				return st, err
			}
		}

		if st.Phase == models.PhaseCollectingPositions {
			turnStart := time.Now()
			collected := o.collect(ctx, room, st)
			next := st.Clone()
			next.Proposal.Positions = append(next.Proposal.Positions, collected...)
			next.PendingRoles = nil
			next.Phase = models.PhaseResolving
			next.UpdatedAt = time.Now()
			if err := o.commit(ctx, &next); err != nil {
				return st, err
			}
			st = next
			o.sink.Observe("deliberation.turn_seconds", time.Since(turnStart).Seconds(), map[string]string{"room": room.ID})
		}

		// Resolving
		decision := Resolve(
			st.Proposal.PositionsForTurn(st.Turn),
			o.cfg.Resolution,
			o.moderatorEnabled(room),
		)
		if decision == DecisionContinue && st.Turn >= o.cfg.MaxTurns {
			decision = DecisionEscalate
		}

		switch decision {
		case DecisionContinue:
			next := st.Clone()
			next.Proposal.Text = reviseProposal(next.Proposal.Text, next.Turn, next.Proposal.PositionsForTurn(next.Turn))
			next.Turn++
			next.Phase = models.PhaseProposalOpen
			next.UpdatedAt = time.Now()
			if err := o.commit(ctx, &next); err != nil {
				return st, err
			}
			st = next
			log.Debug().Int("turn", st.Turn).Msg("unresolved, opening rebuttal round")

		default:
			next := st.Clone()
			next.Proposal.Status = statusFor(decision)
			next.Phase = models.PhaseIdle
			next.PendingRoles = nil
			next.UpdatedAt = time.Now()
			if err := o.commit(ctx, &next); err != nil {
				return st, err
			}
			if decision == DecisionEscalate {
				o.sink.Count("deliberation.escalated", 1, map[string]string{"room": room.ID})
			}
			log.Info().
				Str("proposal", next.Proposal.ID).
				Str("outcome", string(next.Proposal.Status)).
				Int("turns", next.Turn).
				Msg("deliberation resolved")
			return next, nil
		}
	}
}

func (o *Orchestrator) openProposal(st models.DeliberationState, msg models.IncomingMessage) models.DeliberationState {
	next := st.Clone()
	next.Proposal = &models.Proposal{
		ID:              uuid.NewString(),
		OriginMessageID: msg.RecordID,
		Text:            msg.Content,
		Status:          models.ProposalOpen,
	}
	next.Turn = 1
	next.Phase = models.PhaseProposalOpen
	next.PendingRoles = nil
	next.LastRecordID = msg.RecordID
	next.UpdatedAt = time.Now()
	return next
}

// dispatch computes which roles still owe a position this turn. Roles that
// already answered (a resumed run after a crash) are not asked again, which
// keeps the one-position-per-agent-per-turn invariant under redelivery.
func (o *Orchestrator) dispatch(room *models.Room, st models.DeliberationState) models.DeliberationState {
	answered := make(map[string]bool)
	for _, p := range st.Proposal.PositionsForTurn(st.Turn) {
		answered[p.Role] = true
	}

	next := st.Clone()
	next.PendingRoles = nil
	for _, agent := range o.pool.Enabled(room.Roster) {
		if !answered[agent.Role()] {
			next.PendingRoles = append(next.PendingRoles, agent.Role())
		}
	}
	next.Phase = models.PhaseCollectingPositions
	next.UpdatedAt = time.Now()
	return next
}

// collect fans out to every pending agent concurrently and joins before the
// turn advances. A timed-out or failing agent contributes an abstain with
// confidence 0; sibling calls are unaffected.
func (o *Orchestrator) collect(ctx context.Context, room *models.Room, st models.DeliberationState) []models.Position {
	rc := agents.RoomContext{
		RoomID:         room.ID,
		Roster:         room.Roster,
		Turn:           st.Turn,
		PriorPositions: priorPositions(st.Proposal, st.Turn),
	}

	type result struct {
		idx int
		pos models.Position
	}
	results := make(chan result, len(st.PendingRoles))

	for i, role := range st.PendingRoles {
		agent, ok := o.pool.Get(role)
		if !ok {
			results <- result{i, abstainPosition(role, st.Turn, "no agent for role")}
			continue
		}
		go func(i int, a agents.Agent) {
			callCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
			defer cancel()

			pos, err := a.Deliberate(callCtx, rc, *st.Proposal)
			if err != nil {
				rationale := "agent invocation failed"
				if callCtx.Err() == context.DeadlineExceeded {
					rationale = timeoutRationale
				}
				o.logger.Warn().
					Str("room", room.ID).
					Str("role", a.Role()).
					Int("turn", st.Turn).
					Err(err).
					Msg("agent did not produce a position")
				pos = abstainPosition(a.Role(), st.Turn, rationale)
			}
			results <- result{i, pos}
		}(i, agent)
	}

	ordered := make([]models.Position, len(st.PendingRoles))
	for range st.PendingRoles {
		r := <-results
		ordered[r.idx] = r.pos
	}
	return ordered
}

func (o *Orchestrator) commit(ctx context.Context, st *models.DeliberationState) error {
	res := retry.WithBackoff(ctx, o.cfg.CommitRetry, o.logger, func() error {
		_, err := o.checkpoints.Commit(ctx, st.RoomID, *st)
		return err
	})
	if !res.Success {
		return fmt.Errorf("%w: %v", ErrCommitFailed, res.LastError)
	}
	return nil
}

func (o *Orchestrator) moderatorEnabled(room *models.Room) bool {
	if !room.HasRole(agents.RoleModerator) {
		return false
	}
	_, ok := o.pool.Get(agents.RoleModerator)
	return ok
}

func abstainPosition(role string, turn int, rationale string) models.Position {
	return models.Position{
		Role:       role,
		Stance:     models.StanceAbstain,
		Confidence: 0,
		Rationale:  rationale,
		Turn:       turn,
	}
}

func priorPositions(p *models.Proposal, currentTurn int) []models.Position {
	var out []models.Position
	for _, pos := range p.Positions {
		if pos.Turn < currentTurn {
			out = append(out, pos)
		}
	}
	return out
}

func statusFor(d Decision) models.ProposalStatus {
	switch d {
	case DecisionAccept:
		return models.ProposalAccepted
	case DecisionReject:
		return models.ProposalRejected
	default:
		return models.ProposalEscalated
	}
}

// reviseProposal folds the turn's non-abstaining rationales back into the
// proposal text so the next round gets one rebuttal pass over them.
func reviseProposal(text string, turn int, positions []models.Position) string {
	var notes []string
	for _, p := range positions {
		if p.Stance == models.StanceAbstain || p.Rationale == "" {
			continue
		}
		notes = append(notes, fmt.Sprintf("%s (%s): %s", p.Role, p.Stance, p.Rationale))
	}
	if len(notes) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	fmt.Fprintf(&b, "\n\nConsiderations raised in round %d:\n", turn)
	for _, n := range notes {
		b.WriteString("- ")
		b.WriteString(n)
		b.WriteString("\n")
	}
	return b.String()
}
