// Package debate bounds the back-and-forth that can follow a disagreement
// between personas. After the routed responses are generated, a judge
// decides whether another persona genuinely has something to add; the
// moderator enforces the hard response cap and validates every verdict.
// Any failure on this path ends the exchange: a dropped continuation is
// harmless, a runaway one is not.
package debate

import (
	"context"
	"strings"

	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

// MaxResponses is the hard cap on persona responses in one exchange,
// counting the routed primary and secondary.
const MaxResponses = 4

// Entry is one persona response already given in the current exchange.
type Entry struct {
	Persona   persona.Persona
	Mode      persona.Mode
	Text      string
	Challenge bool
}

// Judgment is the judge's verdict on whether the exchange continues.
type Judgment struct {
	Continue bool   `json:"continue"`
	Next     string `json:"next_agent"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
}

// Judge decides whether another persona should join the exchange.
type Judge interface {
	Judge(ctx context.Context, userMessage string, transcript []Entry, enabled persona.Set, challenge bool) (Judgment, error)
}

// Continuation names the persona that speaks next and how.
type Continuation struct {
	Persona persona.Persona
	Mode    persona.Mode
}

// Moderator validates judge verdicts and enforces the response cap.
type Moderator struct {
	judge Judge
}

// NewModerator returns a Moderator backed by the given judge.
func NewModerator(judge Judge) *Moderator {
	return &Moderator{judge: judge}
}

// Next asks the judge whether the exchange should continue. The second
// return value is false when the exchange is over, whether because the cap
// is reached, the judge said stop, the verdict named a persona that is not
// enabled, or the judge failed outright.
func (m *Moderator) Next(ctx context.Context, userMessage string, transcript []Entry, enabled persona.Set, challenge bool) (Continuation, bool) {
	if len(transcript) >= MaxResponses {
		return Continuation{}, false
	}

	verdict, err := m.judge.Judge(ctx, userMessage, transcript, enabled, challenge)
	if err != nil {
		return Continuation{}, false
	}
	if !verdict.Continue {
		return Continuation{}, false
	}

	next, err := persona.Parse(strings.TrimSpace(verdict.Next))
	if err != nil || !enabled.Contains(next) {
		return Continuation{}, false
	}

	mode, err := persona.ParseMode(strings.TrimSpace(verdict.Type))
	if err != nil || mode == persona.ModePrimary {
		// The verdict's type is advisory; a continuation is a debate move
		// unless the judge named a softer one.
		mode = persona.ModeDebate
	}

	return Continuation{Persona: next, Mode: mode}, true
}
