// Package models contains the shared data types passed between the message
// log, the intake consumers, the deliberation orchestrator and the
// checkpoint store.
package models

import (
	"time"
)

// RoomStatus tracks the lifecycle of a boardroom.
type RoomStatus string

const (
	RoomOpen     RoomStatus = "open"
	RoomClosed   RoomStatus = "closed"
	RoomDegraded RoomStatus = "degraded"
)

// Room is a single boardroom deliberation context. A room is created on the
// first message addressed to it and holds at most one live DeliberationState.
type Room struct {
	ID        string     `json:"id"`
	Roster    []string   `json:"roster"` // enabled agent roles
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// HasRole reports whether the given agent role is enabled for the room.
func (r *Room) HasRole(role string) bool {
	for _, enabled := range r.Roster {
		if enabled == role {
			return true
		}
	}
	return false
}

// MessagePayload is the inbound record format appended to the log.
type MessagePayload struct {
	Author  string `json:"author"`
	Content string `json:"content"`
	RoomID  string `json:"room_id"`
}

// IncomingMessage is a log record after it has been read back under a
// consumer group. RecordID is log-assigned and monotonic per room; it doubles
// as the idempotency key for reprocessing.
type IncomingMessage struct {
	RecordID   int64     `json:"record_id"`
	RoomID     string    `json:"room_id"`
	Author     string    `json:"author"`
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
}

// Stance is one agent's vote on a proposal for a single turn.
type Stance string

const (
	StanceSupport         Stance = "support"
	StanceOppose          Stance = "oppose"
	StanceAbstain         Stance = "abstain"
	StanceRequestMoreInfo Stance = "request_more_info"
)

// ValidStance reports whether s is one of the recognized stances.
func ValidStance(s Stance) bool {
	switch s {
	case StanceSupport, StanceOppose, StanceAbstain, StanceRequestMoreInfo:
		return true
	}
	return false
}

// Position is one agent's stance, confidence and rationale for a given turn.
// Positions are append-only within a proposal; there is exactly one per
// (agent, turn) pair.
type Position struct {
	Role       string  `json:"role"`
	Stance     Stance  `json:"stance"`
	Confidence float64 `json:"confidence"` // [0,1]
	Rationale  string  `json:"rationale"`
	Turn       int     `json:"turn"`
}

// ProposalStatus is the resolution state of a proposal. A proposal moves from
// open to exactly one terminal status and never transitions again.
type ProposalStatus string

const (
	ProposalOpen      ProposalStatus = "open"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalEscalated ProposalStatus = "escalated"
)

// Terminal reports whether the status is a resolution terminal.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalAccepted || s == ProposalRejected || s == ProposalEscalated
}

// Proposal is the unit of deliberation: a claim under debate by the roster.
type Proposal struct {
	ID              string         `json:"id"`
	OriginMessageID int64          `json:"origin_message_id"`
	Text            string         `json:"text"`
	Status          ProposalStatus `json:"status"`
	Positions       []Position     `json:"positions"`
}

// PositionsForTurn returns the positions recorded for one turn.
func (p *Proposal) PositionsForTurn(turn int) []Position {
	out := make([]Position, 0, len(p.Positions))
	for _, pos := range p.Positions {
		if pos.Turn == turn {
			out = append(out, pos)
		}
	}
	return out
}

// Phase is the orchestrator's state machine phase.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseProposalOpen        Phase = "proposal_open"
	PhaseCollectingPositions Phase = "collecting_positions"
	PhaseResolving           Phase = "resolving"
)

// DeliberationState is the orchestrator's working memory for one room. It is
// treated as an immutable value: every transition produces a new state that
// is committed as a checkpoint before the transition counts as durable.
type DeliberationState struct {
	RoomID       string    `json:"room_id"`
	Phase        Phase     `json:"phase"`
	Turn         int       `json:"turn"`
	Proposal     *Proposal `json:"proposal,omitempty"`
	PendingRoles []string  `json:"pending_roles,omitempty"` // roles not yet responded this turn
	// LastRecordID is the highest log record fully reflected in this state.
	// The intake consumer uses it to make redelivery a no-op.
	LastRecordID int64     `json:"last_record_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy so transitions never mutate a committed value.
func (s DeliberationState) Clone() DeliberationState {
	out := s
	out.PendingRoles = append([]string(nil), s.PendingRoles...)
	if s.Proposal != nil {
		p := *s.Proposal
		p.Positions = append([]Position(nil), s.Proposal.Positions...)
		out.Proposal = &p
	}
	return out
}

// Equal compares the fields that define deliberation equality: room, turn,
// proposal status and all positions. Timestamps are deliberately excluded.
func (s DeliberationState) Equal(o DeliberationState) bool {
	if s.RoomID != o.RoomID || s.Phase != o.Phase || s.Turn != o.Turn || s.LastRecordID != o.LastRecordID {
		return false
	}
	if (s.Proposal == nil) != (o.Proposal == nil) {
		return false
	}
	if s.Proposal == nil {
		return true
	}
	a, b := s.Proposal, o.Proposal
	if a.ID != b.ID || a.Status != b.Status || a.Text != b.Text || a.OriginMessageID != b.OriginMessageID {
		return false
	}
	if len(a.Positions) != len(b.Positions) {
		return false
	}
	for i := range a.Positions {
		if a.Positions[i] != b.Positions[i] {
			return false
		}
	}
	return true
}

// Checkpoint is a durable snapshot of a room's deliberation state. Sequence
// numbers per room are strictly increasing and gapless relative to committed
// transitions.
type Checkpoint struct {
	RoomID    string    `json:"room_id"`
	Sequence  int64     `json:"sequence"`
	State     []byte    `json:"state"` // serialized DeliberationState
	CreatedAt time.Time `json:"created_at"`
}
