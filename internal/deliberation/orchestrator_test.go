package deliberation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardroom/internal/agents"
	"github.com/boardroom/internal/checkpoint"
	"github.com/boardroom/internal/metrics"
	"github.com/boardroom/internal/retry"
	"github.com/boardroom/pkg/models"
)

func testConfig() Config {
	return Config{
		Resolution:   testResolutionConfig(),
		MaxTurns:     3,
		AgentTimeout: 100 * time.Millisecond,
		CommitRetry: retry.Config{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   time.Millisecond,
			Multiplier: 1,
		},
	}
}

func fullRoster() []string {
	return []string{"finance", "rnd", "legal", "strategy", "moderator"}
}

func testRoom(roster ...string) *models.Room {
	if len(roster) == 0 {
		roster = fullRoster()
	}
	return &models.Room{ID: "demo", Roster: roster, Status: models.RoomOpen}
}

func supportAgent(role string, conf float64) *agents.ScriptedAgent {
	return agents.NewScriptedAgent(role, models.Position{
		Stance: models.StanceSupport, Confidence: conf, Rationale: "looks sound",
	})
}

func opposeAgent(role string, conf float64) *agents.ScriptedAgent {
	return agents.NewScriptedAgent(role, models.Position{
		Stance: models.StanceOppose, Confidence: conf, Rationale: "too risky",
	})
}

func newTestOrchestrator(t *testing.T, members ...agents.Agent) (*Orchestrator, *checkpoint.MemoryStore, *metrics.Recorder) {
	t.Helper()
	pool, err := agents.NewPool(members...)
	require.NoError(t, err)
	store := checkpoint.NewMemoryStore()
	sink := metrics.NewRecorder()
	mgr := checkpoint.NewManager(store, sink, 10240, 400, zerolog.Nop())
	return New(pool, mgr, sink, testConfig(), zerolog.Nop()), store, sink
}

func msg(recordID int64, content string) models.IncomingMessage {
	return models.IncomingMessage{
		RecordID: recordID, RoomID: "demo", Author: "boss", Content: content, ReceivedAt: time.Now(),
	}
}

func TestHappyPathAcceptedFirstTurn(t *testing.T) {
	o, store, _ := newTestOrchestrator(t,
		supportAgent("finance", 0.9),
		supportAgent("rnd", 0.8),
		supportAgent("legal", 0.7),
		agents.NewScriptedAgent("strategy", models.Position{Stance: models.StanceAbstain}),
		supportAgent("moderator", 0.6),
	)

	final, err := o.Run(context.Background(), testRoom(), models.DeliberationState{}, msg(1, "Approve Q3 budget increase"), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ProposalAccepted, final.Proposal.Status)
	assert.Equal(t, models.PhaseIdle, final.Phase)
	assert.Equal(t, 1, final.Turn)
	assert.Equal(t, int64(1), final.LastRecordID)
	assert.Len(t, final.Proposal.Positions, 5)

	// one checkpoint per transition: open, dispatch, collect, terminal
	assert.Equal(t, 4, store.Count("demo"))

	// the committed terminal state round-trips
	restored, _, err := checkpoint.NewManager(store, nil, 10240, 400, zerolog.Nop()).Restore(context.Background(), "demo")
	require.NoError(t, err)
	assert.True(t, final.Equal(restored))
}

func TestTimedOutAgentAbstainsAndTurnAdvances(t *testing.T) {
	slow := supportAgent("legal", 0.9)
	slow.Delay = time.Second // beyond the 100ms agent timeout

	o, _, _ := newTestOrchestrator(t,
		supportAgent("finance", 0.9),
		supportAgent("rnd", 0.8),
		slow,
		supportAgent("strategy", 0.7),
		supportAgent("moderator", 0.6),
	)

	start := time.Now()
	final, err := o.Run(context.Background(), testRoom(), models.DeliberationState{}, msg(1, "Approve vendor contract"), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "siblings must not wait for the slow agent's full delay")

	assert.Equal(t, models.ProposalAccepted, final.Proposal.Status)

	var legal *models.Position
	for i, p := range final.Proposal.Positions {
		if p.Role == "legal" {
			legal = &final.Proposal.Positions[i]
		}
	}
	require.NotNil(t, legal)
	assert.Equal(t, models.StanceAbstain, legal.Stance)
	assert.Zero(t, legal.Confidence)
	assert.Equal(t, "no response within deadline", legal.Rationale)
}

func TestFailingAgentBecomesAbstain(t *testing.T) {
	broken := agents.NewScriptedAgent("rnd", models.Position{})
	broken.Err = errors.New("model backend down")

	o, _, _ := newTestOrchestrator(t,
		supportAgent("finance", 0.9),
		broken,
		supportAgent("legal", 0.8),
		supportAgent("moderator", 0.7),
	)

	final, err := o.Run(context.Background(), testRoom("finance", "rnd", "legal", "moderator"), models.DeliberationState{}, msg(1, "Adopt new tooling"), nil)
	require.NoError(t, err, "an agent failure must not fail the run")
	assert.Equal(t, models.ProposalAccepted, final.Proposal.Status)

	for _, p := range final.Proposal.Positions {
		if p.Role == "rnd" {
			assert.Equal(t, models.StanceAbstain, p.Stance)
		}
	}
}

func TestPersistentNearTieEscalates(t *testing.T) {
	// support 0.5+0.5 vs oppose 0.45+0.45: outside epsilon, below the
	// support threshold, every single turn
	o, _, sink := newTestOrchestrator(t,
		supportAgent("finance", 0.5),
		supportAgent("rnd", 0.5),
		opposeAgent("legal", 0.45),
		opposeAgent("strategy", 0.45),
	)

	final, err := o.Run(context.Background(), testRoom("finance", "rnd", "legal", "strategy"), models.DeliberationState{}, msg(1, "Restructure the sales org"), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ProposalEscalated, final.Proposal.Status)
	assert.Equal(t, 3, final.Turn, "must stop at the configured max turns")
	assert.Len(t, final.Proposal.Positions, 4*3, "one position per agent per turn")
	assert.Equal(t, int64(1), sink.CountOf("deliberation.escalated"))

	// no agent double-votes within any turn
	seen := make(map[[2]interface{}]bool)
	for _, p := range final.Proposal.Positions {
		key := [2]interface{}{p.Role, p.Turn}
		assert.False(t, seen[key], "duplicate position for %s turn %d", p.Role, p.Turn)
		seen[key] = true
	}
}

func TestRebuttalRoundRevisesProposal(t *testing.T) {
	// turn 1 is unresolved, turn 2 resolves once finance comes around
	finance := agents.NewScriptedAgent("finance", models.Position{})
	finance.Script[1] = models.Position{Stance: models.StanceSupport, Confidence: 0.5, Rationale: "margins are thin"}
	finance.Script[2] = models.Position{Stance: models.StanceSupport, Confidence: 0.95, Rationale: "revised terms work"}

	rnd := agents.NewScriptedAgent("rnd", models.Position{})
	rnd.Script[1] = models.Position{Stance: models.StanceSupport, Confidence: 0.5, Rationale: "feasible"}
	rnd.Script[2] = models.Position{Stance: models.StanceSupport, Confidence: 0.9, Rationale: "feasible"}

	legal := agents.NewScriptedAgent("legal", models.Position{})
	legal.Script[1] = models.Position{Stance: models.StanceOppose, Confidence: 0.45, Rationale: "contract ambiguity"}
	legal.Script[2] = models.Position{Stance: models.StanceOppose, Confidence: 0.2, Rationale: "ambiguity addressed"}

	strategy := agents.NewScriptedAgent("strategy", models.Position{})
	strategy.Script[1] = models.Position{Stance: models.StanceOppose, Confidence: 0.45, Rationale: "timing is off"}
	strategy.Script[2] = models.Position{Stance: models.StanceSupport, Confidence: 0.6, Rationale: "timing acceptable"}

	o, _, _ := newTestOrchestrator(t, finance, rnd, legal, strategy)

	final, err := o.Run(context.Background(), testRoom("finance", "rnd", "legal", "strategy"), models.DeliberationState{}, msg(1, "Sign the partnership deal"), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ProposalAccepted, final.Proposal.Status)
	assert.Equal(t, 2, final.Turn)
	assert.True(t, strings.Contains(final.Proposal.Text, "Considerations raised in round 1"), "rebuttal round must see the first round's rationales")
	assert.True(t, strings.Contains(final.Proposal.Text, "contract ambiguity"))
}

type countingAgent struct {
	inner agents.Agent
	calls atomic.Int64
}

func (c *countingAgent) Role() string { return c.inner.Role() }

func (c *countingAgent) Deliberate(ctx context.Context, rc agents.RoomContext, p models.Proposal) (models.Position, error) {
	c.calls.Add(1)
	return c.inner.Deliberate(ctx, rc, p)
}

func TestResumeDoesNotReaskAnsweredRoles(t *testing.T) {
	finance := &countingAgent{inner: supportAgent("finance", 0.9)}
	legal := &countingAgent{inner: supportAgent("legal", 0.9)}

	o, _, _ := newTestOrchestrator(t, finance, legal)

	// a run that crashed after finance answered turn 1
	restored := models.DeliberationState{
		RoomID: "demo",
		Phase:  models.PhaseCollectingPositions,
		Turn:   1,
		Proposal: &models.Proposal{
			ID:              "prop-crashed",
			OriginMessageID: 7,
			Text:            "Approve headcount",
			Status:          models.ProposalOpen,
			Positions: []models.Position{
				{Role: "finance", Stance: models.StanceSupport, Confidence: 0.9, Turn: 1},
			},
		},
		PendingRoles: []string{"legal"},
		LastRecordID: 7,
	}

	final, err := o.Run(context.Background(), testRoom("finance", "legal"), restored, msg(7, "Approve headcount"), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ProposalAccepted, final.Proposal.Status)
	assert.Equal(t, int64(0), finance.calls.Load(), "finance already voted this turn")
	assert.Equal(t, int64(1), legal.calls.Load())
	assert.Len(t, final.Proposal.PositionsForTurn(1), 2)
}

type failingCheckpointStore struct{}

func (failingCheckpointStore) Save(context.Context, *models.Checkpoint) error {
	return errors.New("store unreachable")
}

func (failingCheckpointStore) Latest(context.Context, string) (*models.Checkpoint, error) {
	return nil, checkpoint.ErrNotFound
}

func (failingCheckpointStore) Reclaim(context.Context, string, int) (int, error) {
	return 0, nil
}

func TestCommitFailureAbortsRun(t *testing.T) {
	pool, err := agents.NewPool(supportAgent("finance", 0.9))
	require.NoError(t, err)
	mgr := checkpoint.NewManager(failingCheckpointStore{}, nil, 10240, 400, zerolog.Nop())
	o := New(pool, mgr, nil, testConfig(), zerolog.Nop())

	_, err = o.Run(context.Background(), testRoom("finance"), models.DeliberationState{}, msg(1, "Anything"), nil)
	assert.ErrorIs(t, err, ErrCommitFailed)
}

func TestTurnHookCancelsAtBoundary(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, supportAgent("finance", 0.9))

	stop := errors.New("lease lost")
	_, err := o.Run(context.Background(), testRoom("finance"), models.DeliberationState{}, msg(1, "Anything"), func(context.Context) error {
		return stop
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, stop)
}
