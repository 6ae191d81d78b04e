// Package agents holds the roster of deliberation participants. Each agent
// is a stateless function from (room context, proposal) to a position; the
// pool is explicit configuration injected into the orchestrator, never a
// process-wide registry.
package agents

import (
	"context"
	"fmt"

	"github.com/boardroom/pkg/models"
)

// Canonical role names for the default roster.
const (
	RoleFinance   = "finance"
	RoleRnD       = "rnd"
	RoleLegal     = "legal"
	RoleStrategy  = "strategy"
	RoleModerator = "moderator"
)

// RoomContext is the read-only context an agent deliberates in.
type RoomContext struct {
	RoomID string
	Roster []string
	Turn   int
	// PriorPositions holds every position from earlier turns, so rebuttal
	// rounds can react to the rest of the table.
	PriorPositions []models.Position
}

// Agent produces one position per turn for its role.
type Agent interface {
	Role() string
	Deliberate(ctx context.Context, rc RoomContext, proposal models.Proposal) (models.Position, error)
}

// Pool is a fixed roster of agents keyed by role.
type Pool struct {
	byRole map[string]Agent
	order  []string
}

func NewPool(members ...Agent) (*Pool, error) {
	p := &Pool{byRole: make(map[string]Agent)}
	for _, a := range members {
		role := a.Role()
		if _, dup := p.byRole[role]; dup {
			return nil, fmt.Errorf("agents: duplicate role %q in pool", role)
		}
		p.byRole[role] = a
		p.order = append(p.order, role)
	}
	return p, nil
}

// Get returns the agent for a role, if the pool has one.
func (p *Pool) Get(role string) (Agent, bool) {
	a, ok := p.byRole[role]
	return a, ok
}

// Enabled returns the pool's agents for the roles a room has enabled,
// preserving pool order. Unknown roster entries are skipped.
func (p *Pool) Enabled(roster []string) []Agent {
	enabled := make(map[string]bool, len(roster))
	for _, role := range roster {
		enabled[role] = true
	}
	var out []Agent
	for _, role := range p.order {
		if enabled[role] {
			out = append(out, p.byRole[role])
		}
	}
	return out
}

// Roles returns every role in the pool in registration order.
func (p *Pool) Roles() []string {
	return append([]string(nil), p.order...)
}
