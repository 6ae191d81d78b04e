package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardroom/pkg/models"
)

func TestParsePositionCleanJSON(t *testing.T) {
	pos, err := ParsePosition("finance", 2, `{"stance":"support","confidence":0.85,"rationale":"Fits the budget."}`)
	require.NoError(t, err)
	assert.Equal(t, "finance", pos.Role)
	assert.Equal(t, 2, pos.Turn)
	assert.Equal(t, models.StanceSupport, pos.Stance)
	assert.InDelta(t, 0.85, pos.Confidence, 1e-9)
	assert.Equal(t, "Fits the budget.", pos.Rationale)
}

func TestParsePositionFencedWithProse(t *testing.T) {
	response := "Here is my assessment:\n```json\n{\"stance\": \"oppose\", \"confidence\": 0.9, \"rationale\": \"Too much regulatory exposure.\"}\n```\nLet me know if you need more."
	pos, err := ParsePosition("legal", 1, response)
	require.NoError(t, err)
	assert.Equal(t, models.StanceOppose, pos.Stance)
	assert.InDelta(t, 0.9, pos.Confidence, 1e-9)
}

func TestParsePositionRepairsMalformedJSON(t *testing.T) {
	// trailing comma and single quotes, the usual model damage
	response := `{'stance': 'abstain', 'confidence': 0.5, 'rationale': 'Need more data',}`
	pos, err := ParsePosition("rnd", 1, response)
	require.NoError(t, err)
	assert.Equal(t, models.StanceAbstain, pos.Stance)
}

func TestParsePositionClampsConfidence(t *testing.T) {
	pos, err := ParsePosition("strategy", 1, `{"stance":"support","confidence":1.7,"rationale":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Confidence)

	pos, err = ParsePosition("strategy", 1, `{"stance":"oppose","confidence":-0.4,"rationale":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos.Confidence)
}

func TestParsePositionSpecSpelling(t *testing.T) {
	pos, err := ParsePosition("moderator", 1, `{"stance":"request-more-info","confidence":0.3,"rationale":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, models.StanceRequestMoreInfo, pos.Stance)
}

func TestParsePositionRejectsGarbage(t *testing.T) {
	_, err := ParsePosition("finance", 1, "I fully support this proposal!")
	require.Error(t, err)

	_, err = ParsePosition("finance", 1, `{"stance":"maybe","confidence":0.5,"rationale":"x"}`)
	require.Error(t, err)
}

func TestPoolEnabledFiltersAndOrders(t *testing.T) {
	pool, err := NewPool(
		NewScriptedAgent(RoleFinance, models.Position{Stance: models.StanceSupport}),
		NewScriptedAgent(RoleLegal, models.Position{Stance: models.StanceSupport}),
		NewScriptedAgent(RoleModerator, models.Position{Stance: models.StanceAbstain}),
	)
	require.NoError(t, err)

	enabled := pool.Enabled([]string{"moderator", "finance", "ghost"})
	require.Len(t, enabled, 2)
	assert.Equal(t, RoleFinance, enabled[0].Role()) // pool order, not roster order
	assert.Equal(t, RoleModerator, enabled[1].Role())
}

func TestPoolRejectsDuplicateRoles(t *testing.T) {
	_, err := NewPool(
		NewScriptedAgent(RoleFinance, models.Position{}),
		NewScriptedAgent(RoleFinance, models.Position{}),
	)
	require.Error(t, err)
}
