package deliberation

import (
	"math"

	"github.com/boardroom/internal/agents"
	"github.com/boardroom/pkg/models"
)

// Decision is the outcome of applying the resolution rule to one turn's
// positions.
type Decision int

const (
	// DecisionContinue means neither side carried the turn; the proposal
	// goes into a rebuttal round if the turn budget allows.
	DecisionContinue Decision = iota
	DecisionAccept
	DecisionReject
	DecisionEscalate
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionReject:
		return "reject"
	case DecisionEscalate:
		return "escalate"
	default:
		return "continue"
	}
}

// ResolutionConfig holds the thresholds the rule is evaluated against.
type ResolutionConfig struct {
	// SupportThreshold is the share of weighted confidence one side must
	// carry to win the turn.
	SupportThreshold float64
	// VetoThreshold blocks a win when any single position on the losing
	// side is at least this confident.
	VetoThreshold float64
	// TieEpsilon bounds "equal" weighted confidences for the tie-break.
	TieEpsilon float64
}

// Resolve applies the resolution rule to the positions of a single turn.
// It is a pure function: the same positions and config always produce the
// same decision.
//
// Support wins when its share of weighted confidence exceeds the support
// threshold and no oppose position reaches the veto threshold; rejection is
// the symmetric condition. When the two weighted confidences are equal
// within epsilon, the moderator's stance decides; without a moderator the
// proposal escalates.
func Resolve(positions []models.Position, cfg ResolutionConfig, moderatorEnabled bool) Decision {
	var supportWeight, opposeWeight float64
	var maxSupport, maxOppose float64
	var moderator *models.Position

	for i := range positions {
		p := positions[i]
		if p.Role == agents.RoleModerator {
			moderator = &positions[i]
		}
		switch p.Stance {
		case models.StanceSupport:
			supportWeight += p.Confidence
			maxSupport = math.Max(maxSupport, p.Confidence)
		case models.StanceOppose:
			opposeWeight += p.Confidence
			maxOppose = math.Max(maxOppose, p.Confidence)
		}
	}

	total := supportWeight + opposeWeight
	if total == 0 {
		// nobody took a side this turn
		return DecisionContinue
	}

	if math.Abs(supportWeight-opposeWeight) <= cfg.TieEpsilon {
		if moderatorEnabled && moderator != nil {
			switch moderator.Stance {
			case models.StanceSupport:
				return DecisionAccept
			case models.StanceOppose:
				return DecisionReject
			}
		}
		return DecisionEscalate
	}

	supportShare := supportWeight / total
	opposeShare := opposeWeight / total

	if supportShare > cfg.SupportThreshold && maxOppose < cfg.VetoThreshold {
		return DecisionAccept
	}
	if opposeShare > cfg.SupportThreshold && maxSupport < cfg.VetoThreshold {
		return DecisionReject
	}
	return DecisionContinue
}
