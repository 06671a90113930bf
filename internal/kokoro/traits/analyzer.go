// Package traits turns user messages into small, confidence-damped
// adjustments of the persistent affinity weights. Two analyzers feed the
// update: an intrinsic one that scores how the user themselves thinks in
// the message, and an engagement one that scores how they reacted to the
// personas that answered their previous message.
package traits

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Kokoro/internal/kokoro/affinity"
	"github.com/bdobrica/Kokoro/internal/kokoro/llm"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

// intrinsicNeutral is the per-persona score of a message that exhibits no
// particular thinking style. Intrinsic deltas are centred on it; the
// scoring prompt names the same anchor, so it is not a tuning knob.
const intrinsicNeutral = 0.33

// Config carries the analyzers' tuning constants. These are product-tuned
// values, not invariants; Defaults documents the shipped settings.
type Config struct {
	// IntrinsicBoost scales intrinsic deltas; the analysis runs on every
	// message, so its per-message pull is kept small.
	IntrinsicBoost float64

	// EngagementBoost scales engagement deltas. Reacting to a persona is
	// a much stronger preference signal than phrasing alone.
	EngagementBoost float64

	// ChallengeDamping multiplies engagement impact while challenge mode
	// is on. Reactions to deliberately provocative responses say more
	// about the provocation than the user.
	ChallengeDamping float64

	// MinAnalyzableLen skips intrinsic analysis of throwaway messages.
	MinAnalyzableLen int

	// Temperature is the decoding temperature of both analysis calls.
	Temperature float64
}

// Defaults returns the shipped analyzer tuning.
func Defaults() Config {
	return Config{
		IntrinsicBoost:   0.015,
		EngagementBoost:  0.03,
		ChallengeDamping: 0.5,
		MinAnalyzableLen: 10,
		Temperature:      0.3,
	}
}

// Signals holds one analyzer's per-persona scores.
type Signals struct {
	Instinct  float64
	Logic     float64
	Psyche    float64
	Reasoning string
}

// NeutralIntrinsic is the intrinsic result for messages too short to say
// anything about how the user thinks. Its delta is zero by construction.
func NeutralIntrinsic() Signals {
	return Signals{
		Instinct:  intrinsicNeutral,
		Logic:     intrinsicNeutral,
		Psyche:    intrinsicNeutral,
		Reasoning: "neutral message",
	}
}

const intrinsicPrompt = `You are a trait analyzer. Analyze the user's message to detect which cognitive traits are exhibited in HOW they communicate.

For each trait, assign a signal strength from 0.0 to 1.0:

LOGIC (analytical thinking):
- Step-by-step reasoning ("First... then... therefore...")
- Data references, statistics, evidence
- Structured arguments, pros/cons lists
- Seeking clarity, definitions, precision

INSTINCT (gut-driven thinking):
- Quick reactions, immediate judgments
- Emotional reads ("I feel like...", "My gut says...")
- Decisive, action-oriented language
- Trusting first impressions

PSYCHE (reflective thinking):
- Self-reflection, introspection
- Exploring motivations ("Why do I feel this way?")
- Emotional depth and nuance
- Meaning-seeking, "bigger picture" questions

SCORING GUIDELINES:
- Scores are NOT mutually exclusive; a message can exhibit multiple traits
- Most messages score 0.2-0.5 on each (subtle signals)
- Strong signals (0.7+) are rare and require clear evidence
- A neutral/ambiguous message scores ~0.33 on each

Respond in this exact JSON format:
{
  "logic_signal": 0.33,
  "instinct_signal": 0.33,
  "psyche_signal": 0.33,
  "reasoning": "Brief explanation of detected trait signals"
}`

// IntrinsicAnalyzer scores how the user's own phrasing leans toward each
// persona's thinking style, independent of what the personas said.
type IntrinsicAnalyzer struct {
	provider llm.Provider
	cfg      Config
}

// NewIntrinsicAnalyzer returns an analyzer backed by the given provider.
func NewIntrinsicAnalyzer(provider llm.Provider, cfg Config) *IntrinsicAnalyzer {
	return &IntrinsicAnalyzer{provider: provider, cfg: cfg}
}

// Analyze scores one user message. Messages shorter than the configured
// minimum return the neutral result without a provider call.
func (a *IntrinsicAnalyzer) Analyze(ctx context.Context, message string) (Signals, error) {
	if len(message) < a.cfg.MinAnalyzableLen {
		return NeutralIntrinsic(), nil
	}

	completion, err := a.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: intrinsicPrompt},
			{Role: "user", Content: "USER MESSAGE:\n" + message + "\n\nAnalyze trait signals:"},
		},
		Temperature: a.cfg.Temperature,
		JSONOnly:    true,
	})
	if err != nil {
		return Signals{}, fmt.Errorf("traits: intrinsic analysis: %w", err)
	}

	var wire struct {
		Logic     float64 `json:"logic_signal"`
		Instinct  float64 `json:"instinct_signal"`
		Psyche    float64 `json:"psyche_signal"`
		Reasoning string  `json:"reasoning"`
	}
	if err := llm.DecodeJudgment(completion, &wire); err != nil {
		return Signals{}, fmt.Errorf("traits: intrinsic analysis: %w", err)
	}
	return Signals{
		Instinct:  clampUnit(wire.Instinct),
		Logic:     clampUnit(wire.Logic),
		Psyche:    clampUnit(wire.Psyche),
		Reasoning: wire.Reasoning,
	}, nil
}

const engagementPrompt = `You are an engagement analyzer. Analyze how the user's response engages with the previous persona responses.

For each persona, assign a score from -1.0 to 1.0:
- 1.0: Strong agreement, follow-up questions, adopting their framing
- 0.5: Moderate engagement, building on their point
- 0.0: Neutral, no clear engagement
- -0.5: Mild disagreement or dismissal
- -1.0: Strong disagreement or rejection

Look for signals like:
- Explicit agreement/disagreement ("Good point", "I don't think so")
- Follow-up questions to a specific persona's point
- Adopting a persona's language or suggested approach
- Acting on a persona's suggestion
- Asking for elaboration from a specific perspective

Respond in this exact JSON format:
{
  "logic_score": 0.0,
  "instinct_score": 0.0,
  "psyche_score": 0.0,
  "reasoning": "Brief explanation of engagement patterns detected"
}

Be nuanced: most responses have subtle engagement patterns, not extreme scores. If the user is simply continuing the conversation without clear preference, keep scores near 0.`

// PriorResponse is one persona response from the turn the user is now
// reacting to.
type PriorResponse struct {
	Persona   persona.Persona
	Text      string
	Challenge bool
}

// EngagementAnalyzer scores how the user's message reacts to the personas
// that answered their previous one.
type EngagementAnalyzer struct {
	provider llm.Provider
	cards    *persona.Cards
	cfg      Config
}

// NewEngagementAnalyzer returns an analyzer backed by the given provider.
func NewEngagementAnalyzer(provider llm.Provider, cards *persona.Cards, cfg Config) *EngagementAnalyzer {
	return &EngagementAnalyzer{provider: provider, cards: cards, cfg: cfg}
}

// Analyze scores the user's reaction to prior. With no prior responses
// there is nothing to react to and the zero result is returned without a
// provider call.
func (a *EngagementAnalyzer) Analyze(ctx context.Context, message string, prior []PriorResponse) (Signals, error) {
	if len(prior) == 0 {
		return Signals{Reasoning: "no prior responses"}, nil
	}

	var lines []string
	for _, r := range prior {
		name := a.cards.DisplayName(r.Persona, r.Challenge)
		lines = append(lines, fmt.Sprintf("[%s (%s)]: %s", name, r.Persona, r.Text))
	}

	completion, err := a.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: engagementPrompt},
			{Role: "user", Content: fmt.Sprintf(
				"PREVIOUS PERSONA RESPONSES:\n%s\n\nUSER'S RESPONSE:\n%s\n\nAnalyze engagement:",
				strings.Join(lines, "\n\n"), message)},
		},
		Temperature: a.cfg.Temperature,
		JSONOnly:    true,
	})
	if err != nil {
		return Signals{}, fmt.Errorf("traits: engagement analysis: %w", err)
	}

	var wire struct {
		Logic     float64 `json:"logic_score"`
		Instinct  float64 `json:"instinct_score"`
		Psyche    float64 `json:"psyche_score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := llm.DecodeJudgment(completion, &wire); err != nil {
		return Signals{}, fmt.Errorf("traits: engagement analysis: %w", err)
	}
	return Signals{
		Instinct:  clampSigned(wire.Instinct),
		Logic:     clampSigned(wire.Logic),
		Psyche:    clampSigned(wire.Psyche),
		Reasoning: wire.Reasoning,
	}, nil
}

// Delta folds both analyses into one raw weight delta, before confidence
// scaling. hadEngagement distinguishes "no personas to react to" from a
// genuinely neutral reaction; both contribute zero, but only the former
// skips the engagement term entirely.
func (c Config) Delta(intrinsic Signals, engagement Signals, hadEngagement, challenge bool) affinity.Weights {
	var d affinity.Weights

	d.Instinct = (intrinsic.Instinct - intrinsicNeutral) * c.IntrinsicBoost
	d.Logic = (intrinsic.Logic - intrinsicNeutral) * c.IntrinsicBoost
	d.Psyche = (intrinsic.Psyche - intrinsicNeutral) * c.IntrinsicBoost

	if hadEngagement {
		mult := c.EngagementBoost
		if challenge {
			mult *= c.ChallengeDamping
		}
		d.Instinct += engagement.Instinct * mult
		d.Logic += engagement.Logic * mult
		d.Psyche += engagement.Psyche * mult
	}

	return d
}

func clampUnit(v float64) float64 {
	return min(max(v, 0), 1)
}

func clampSigned(v float64) float64 {
	return min(max(v, -1), 1)
}
