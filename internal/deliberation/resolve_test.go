package deliberation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/boardroom/pkg/models"
)

func testResolutionConfig() ResolutionConfig {
	return ResolutionConfig{
		SupportThreshold: 0.6,
		VetoThreshold:    0.8,
		TieEpsilon:       0.05,
	}
}

func pos(role string, stance models.Stance, conf float64) models.Position {
	return models.Position{Role: role, Stance: stance, Confidence: conf, Turn: 1}
}

func TestResolveAccepts(t *testing.T) {
	positions := []models.Position{
		pos("finance", models.StanceSupport, 0.9),
		pos("rnd", models.StanceSupport, 0.8),
		pos("legal", models.StanceOppose, 0.3),
		pos("strategy", models.StanceAbstain, 0.0),
	}
	assert.Equal(t, DecisionAccept, Resolve(positions, testResolutionConfig(), true))
}

func TestResolveVetoBlocksAcceptance(t *testing.T) {
	positions := []models.Position{
		pos("finance", models.StanceSupport, 0.9),
		pos("rnd", models.StanceSupport, 0.9),
		pos("strategy", models.StanceSupport, 0.9),
		pos("legal", models.StanceOppose, 0.95), // confident veto
	}
	assert.Equal(t, DecisionContinue, Resolve(positions, testResolutionConfig(), true))
}

func TestResolveRejects(t *testing.T) {
	positions := []models.Position{
		pos("finance", models.StanceOppose, 0.9),
		pos("legal", models.StanceOppose, 0.85),
		pos("rnd", models.StanceSupport, 0.3),
	}
	assert.Equal(t, DecisionReject, Resolve(positions, testResolutionConfig(), true))
}

func TestResolveAllAbstainContinues(t *testing.T) {
	positions := []models.Position{
		pos("finance", models.StanceAbstain, 0),
		pos("legal", models.StanceRequestMoreInfo, 0.5),
	}
	assert.Equal(t, DecisionContinue, Resolve(positions, testResolutionConfig(), true))
}

func TestResolveTieModeratorDecides(t *testing.T) {
	base := []models.Position{
		pos("finance", models.StanceSupport, 0.7),
		pos("legal", models.StanceOppose, 0.7),
	}

	withMod := append(append([]models.Position(nil), base...), pos("moderator", models.StanceSupport, 0.5))
	assert.Equal(t, DecisionAccept, Resolve(withMod, testResolutionConfig(), true))

	withMod[2].Stance = models.StanceOppose
	assert.Equal(t, DecisionReject, Resolve(withMod, testResolutionConfig(), true))

	// an abstaining moderator cannot break the tie
	withMod[2].Stance = models.StanceAbstain
	assert.Equal(t, DecisionEscalate, Resolve(withMod, testResolutionConfig(), true))
}

func TestResolveTieWithoutModeratorEscalates(t *testing.T) {
	positions := []models.Position{
		pos("finance", models.StanceSupport, 0.7),
		pos("legal", models.StanceOppose, 0.68), // within epsilon
	}
	assert.Equal(t, DecisionEscalate, Resolve(positions, testResolutionConfig(), false))
}

func TestResolveIsDeterministic(t *testing.T) {
	positions := []models.Position{
		pos("finance", models.StanceSupport, 0.62),
		pos("rnd", models.StanceSupport, 0.41),
		pos("legal", models.StanceOppose, 0.55),
		pos("strategy", models.StanceOppose, 0.12),
		pos("moderator", models.StanceSupport, 0.33),
	}
	first := Resolve(positions, testResolutionConfig(), true)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Resolve(positions, testResolutionConfig(), true))
	}
}

func TestResolveUnresolvedBelowThresholds(t *testing.T) {
	// support carries more weight than oppose but short of the threshold
	positions := []models.Position{
		pos("finance", models.StanceSupport, 0.5),
		pos("rnd", models.StanceSupport, 0.5),
		pos("legal", models.StanceOppose, 0.45),
		pos("strategy", models.StanceOppose, 0.45),
	}
	assert.Equal(t, DecisionContinue, Resolve(positions, testResolutionConfig(), true))
}
