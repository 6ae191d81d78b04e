package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/boardroom/pkg/models"
)

// personas maps a role to the system framing its prompt is built from.
var personas = map[string]string{
	RoleFinance:   "You are the Finance board member. Judge proposals on budget impact, cash flow and financial risk.",
	RoleRnD:       "You are the R&D board member. Judge proposals on technical feasibility, innovation value and engineering cost.",
	RoleLegal:     "You are the Legal board member. Judge proposals on regulatory exposure, contractual risk and compliance.",
	RoleStrategy:  "You are the Strategy board member. Judge proposals on market positioning and long-term direction.",
	RoleModerator: "You are the board Moderator. Weigh the overall balance of the discussion and judge the proposal on its merits for the organization as a whole.",
}

// LLMAgent is a deliberation participant backed by a language model.
type LLMAgent struct {
	role   string
	llm    llms.Model
	logger zerolog.Logger
}

func NewLLMAgent(role string, model llms.Model, logger zerolog.Logger) *LLMAgent {
	return &LLMAgent{
		role:   role,
		llm:    model,
		logger: logger.With().Str("component", "agent").Str("role", role).Logger(),
	}
}

func (a *LLMAgent) Role() string { return a.role }

func (a *LLMAgent) Deliberate(ctx context.Context, rc RoomContext, proposal models.Proposal) (models.Position, error) {
	prompt := buildPrompt(a.role, rc, proposal)

	response, err := llms.GenerateFromSinglePrompt(ctx, a.llm, prompt)
	if err != nil {
		return models.Position{}, fmt.Errorf("agent %s: llm call failed: %w", a.role, err)
	}

	pos, err := ParsePosition(a.role, rc.Turn, response)
	if err != nil {
		a.logger.Warn().Err(err).Str("raw", response).Msg("unparsable agent response")
		return models.Position{}, fmt.Errorf("agent %s: %w", a.role, err)
	}
	return pos, nil
}

func buildPrompt(role string, rc RoomContext, proposal models.Proposal) string {
	var b strings.Builder
	persona, ok := personas[role]
	if !ok {
		persona = fmt.Sprintf("You are the %s board member.", role)
	}
	b.WriteString(persona)
	b.WriteString("\n\nProposal under deliberation:\n")
	b.WriteString(proposal.Text)
	b.WriteString("\n")

	if len(rc.PriorPositions) > 0 {
		b.WriteString("\nPositions from earlier turns:\n")
		for _, p := range rc.PriorPositions {
			fmt.Fprintf(&b, "- turn %d, %s: %s (confidence %.2f): %s\n",
				p.Turn, p.Role, p.Stance, p.Confidence, p.Rationale)
		}
	}

	fmt.Fprintf(&b, `
This is turn %d. Respond with a single JSON object and nothing else:
{"stance": "support" | "oppose" | "abstain" | "request_more_info", "confidence": <number between 0 and 1>, "rationale": "<one or two sentences>"}
`, rc.Turn)
	return b.String()
}

// rawPosition is the wire shape an agent is asked to answer in.
type rawPosition struct {
	Stance     string  `json:"stance"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// ParsePosition extracts a Position from a model response. Models wrap JSON
// in prose and code fences often enough that we strip those first and fall
// back to jsonrepair before giving up.
func ParsePosition(role string, turn int, response string) (models.Position, error) {
	raw := extractJSONObject(response)
	if raw == "" {
		return models.Position{}, fmt.Errorf("no JSON object in response")
	}

	var parsed rawPosition
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return models.Position{}, fmt.Errorf("parse position: %v (repair also failed: %v)", err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return models.Position{}, fmt.Errorf("parse repaired position: %w", err)
		}
	}

	stance := models.Stance(strings.ToLower(strings.TrimSpace(parsed.Stance)))
	// models sometimes hyphenate despite the prompt
	if stance == "request-more-info" {
		stance = models.StanceRequestMoreInfo
	}
	if !models.ValidStance(stance) {
		return models.Position{}, fmt.Errorf("unknown stance %q", parsed.Stance)
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return models.Position{
		Role:       role,
		Stance:     stance,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(parsed.Rationale),
		Turn:       turn,
	}, nil
}

// extractJSONObject returns the first balanced {...} span, skipping prose
// and markdown fences around it.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	// unbalanced; let jsonrepair have a go at the tail
	return s[start:]
}
