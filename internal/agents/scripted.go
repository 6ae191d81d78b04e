package agents

import (
	"context"
	"time"

	"github.com/boardroom/pkg/models"
)

// ScriptedAgent answers from a fixed per-turn script. Used in tests and for
// offline runs without an LLM backend.
type ScriptedAgent struct {
	role string
	// Script maps turn -> position template. A missing turn falls back to
	// Default.
	Script  map[int]models.Position
	Default models.Position
	// Delay simulates a slow agent; the orchestrator's per-agent timeout
	// should convert it into an abstain.
	Delay time.Duration
	// Err, when set, is returned from every call.
	Err error
}

func NewScriptedAgent(role string, defaultPos models.Position) *ScriptedAgent {
	return &ScriptedAgent{role: role, Default: defaultPos, Script: make(map[int]models.Position)}
}

func (a *ScriptedAgent) Role() string { return a.role }

func (a *ScriptedAgent) Deliberate(ctx context.Context, rc RoomContext, _ models.Proposal) (models.Position, error) {
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return models.Position{}, ctx.Err()
		}
	}
	if a.Err != nil {
		return models.Position{}, a.Err
	}

	pos, ok := a.Script[rc.Turn]
	if !ok {
		pos = a.Default
	}
	pos.Role = a.role
	pos.Turn = rc.Turn
	return pos, nil
}
