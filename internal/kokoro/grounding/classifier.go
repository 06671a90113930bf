// Package grounding decides how much accumulated user-context is surfaced
// to the personas for a given turn.
//
// Deep personalisation costs tokens and makes responses heavier; throwaway
// exchanges should not pay for it, while sensitive or complex exchanges
// must get the full profile. The classifier is pure and synchronous; it
// runs on the response path next to routing.
package grounding

import (
	"strings"
)

// Level is how much user-context the personas receive this turn.
type Level int

const (
	// Light surfaces nothing: just answer the message.
	Light Level = iota
	// Moderate surfaces a handful of relevant facts and patterns.
	Moderate
	// Deep surfaces the full known profile and past-conversation context.
	Deep
)

// String returns the canonical lowercase level name.
func (l Level) String() string {
	switch l {
	case Light:
		return "light"
	case Moderate:
		return "moderate"
	case Deep:
		return "deep"
	default:
		return "light"
	}
}

// Profile is the classifier's view of the accumulated user profile: just
// the keys, not the values. Richness is judged from counts; the turn
// service resolves keys to content only for the levels that need it.
type Profile struct {
	// FactKeys are the keys of all stored facts about the user.
	FactKeys []string
	// PatternTypes are the types of all stored behavioural patterns.
	PatternTypes []string
}

// Rich reports whether the profile is substantial enough to ground deeply:
// at least 3 facts or at least 2 behavioural patterns.
func (p Profile) Rich() bool {
	return len(p.FactKeys) >= 3 || len(p.PatternTypes) >= 2
}

// Decision is the classifier's output for one turn. Computed fresh per
// turn and never persisted.
type Decision struct {
	Level              Level
	RelevantFactKeys   []string
	RelevantPatterns   []string
	IncludePastContext bool
}

// Config carries the classifier's tuning constants.
type Config struct {
	// LongMessageWords marks a message as complex on its own.
	LongMessageWords int
	// ModerateMessageWords is the lower bar that lifts grounding from
	// light to moderate.
	ModerateMessageWords int
	// ComplexQuestionCount is the number of question marks that marks a
	// message as complex.
	ComplexQuestionCount int
	// ModerateFactLimit and ModeratePatternLimit cap how much of the
	// profile a moderate decision surfaces.
	ModerateFactLimit    int
	ModeratePatternLimit int
}

// Defaults returns the shipped classifier tuning.
func Defaults() Config {
	return Config{
		LongMessageWords:     50,
		ModerateMessageWords: 30,
		ComplexQuestionCount: 2,
		ModerateFactLimit:    5,
		ModeratePatternLimit: 2,
	}
}

// introspectiveMarkers are message substrings that signal the user is
// doing identity or meaning work, independent of message length.
var introspectiveMarkers = []string{
	"why do i",
	"what does this mean",
	"help me understand",
	"been thinking about",
	"struggling with",
	"pattern",
	"always",
	"never",
	"relationship",
	"therapy",
	"deeper",
	"really",
	"honestly",
	"truth",
}

// Classifier applies the grounding rules. Safe for concurrent use.
type Classifier struct {
	cfg Config
}

// New returns a Classifier with the given tuning.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify decides the grounding level for one turn.
//
// priorUserTurns is the number of user messages already in the
// conversation before this one. Rules are evaluated in order, first match
// wins:
//
//  1. First user turn is Light, no facts, no past context, even when a
//     rich profile exists. Opening a conversation with deep personal
//     recall is unsettling.
//  2. Complex message AND rich profile → Deep with the full profile.
//  3. Rich profile OR moderately long message → Moderate, capped facts.
//  4. Otherwise → Light.
func (c *Classifier) Classify(message string, priorUserTurns int, profile Profile) Decision {
	if priorUserTurns == 0 {
		return Decision{Level: Light}
	}

	if c.complex(message) && profile.Rich() {
		return Decision{
			Level:              Deep,
			RelevantFactKeys:   append([]string(nil), profile.FactKeys...),
			RelevantPatterns:   append([]string(nil), profile.PatternTypes...),
			IncludePastContext: true,
		}
	}

	if profile.Rich() || wordCount(message) > c.cfg.ModerateMessageWords {
		return Decision{
			Level:            Moderate,
			RelevantFactKeys: head(profile.FactKeys, c.cfg.ModerateFactLimit),
			RelevantPatterns: head(profile.PatternTypes, c.cfg.ModeratePatternLimit),
		}
	}

	return Decision{Level: Light}
}

// complex reports whether the message needs deep treatment on its own
// merits: long, multi-question, or introspective.
func (c *Classifier) complex(message string) bool {
	if wordCount(message) > c.cfg.LongMessageWords {
		return true
	}
	if strings.Count(message, "?") >= c.cfg.ComplexQuestionCount {
		return true
	}
	msgLower := strings.ToLower(message)
	for _, marker := range introspectiveMarkers {
		if strings.Contains(msgLower, marker) {
			return true
		}
	}
	return false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func head(ss []string, n int) []string {
	if len(ss) <= n {
		return append([]string(nil), ss...)
	}
	return append([]string(nil), ss[:n]...)
}
