// Package persona defines the closed set of responder identities Kokoro can
// speak as, and the interaction modes a follow-on response can take.
//
// Persona identity is an enum everywhere inside the system. Free-text names
// ("logic", "Psyche", ...) are converted exactly once, at the system
// boundary, via Parse; internal logic never compares strings.
package persona

import (
	"fmt"
	"strings"
)

// Persona is one of the three fixed responder identities.
type Persona int

const (
	// Instinct is the gut-read persona: quick, direct, action-oriented.
	Instinct Persona = iota
	// Logic is the analytical persona: structured, step-by-step, precise.
	Logic
	// Psyche is the reflective persona: motivations, meaning, emotional depth.
	Psyche
)

// All lists every persona in canonical order.
var All = []Persona{Instinct, Logic, Psyche}

// Count is the number of personas in the closed set.
const Count = 3

// String returns the canonical lowercase name.
func (p Persona) String() string {
	switch p {
	case Instinct:
		return "instinct"
	case Logic:
		return "logic"
	case Psyche:
		return "psyche"
	default:
		return fmt.Sprintf("persona(%d)", int(p))
	}
}

// Valid reports whether p is a member of the closed set.
func (p Persona) Valid() bool {
	return p >= Instinct && p <= Psyche
}

// Parse converts a free-text persona name into a Persona. Matching is
// case-insensitive and tolerates surrounding whitespace. This is the only
// place string persona names are interpreted.
func Parse(s string) (Persona, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instinct":
		return Instinct, nil
	case "logic":
		return Logic, nil
	case "psyche":
		return Psyche, nil
	default:
		return 0, fmt.Errorf("persona: unknown persona %q", s)
	}
}

// Mode describes how a follow-on response relates to what came before it.
type Mode int

const (
	// ModePrimary marks the first response of a turn.
	ModePrimary Mode = iota
	// ModeAddition adds a caveat or different angle, collaboratively.
	ModeAddition
	// ModeRebuttal challenges or disagrees with the previous response.
	ModeRebuttal
	// ModeDebate is strong disagreement that may trigger a back-and-forth.
	ModeDebate
)

// String returns the canonical lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeAddition:
		return "addition"
	case ModeRebuttal:
		return "rebuttal"
	case ModeDebate:
		return "debate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a free-text mode name into a Mode. Like Parse, it is
// the single boundary conversion; unknown names are an error so callers can
// fall back to a safe default explicitly.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return ModePrimary, nil
	case "addition":
		return ModeAddition, nil
	case "rebuttal":
		return ModeRebuttal, nil
	case "debate":
		return ModeDebate, nil
	default:
		return 0, fmt.Errorf("persona: unknown mode %q", s)
	}
}

// Set is a small immutable collection of enabled personas. Order is
// preserved as given (the first entry is the fallback primary when scoring
// cannot break a tie).
type Set struct {
	members []Persona
}

// NewSet builds a Set from the given personas, dropping duplicates while
// preserving first-seen order.
func NewSet(personas ...Persona) Set {
	seen := make(map[Persona]struct{}, len(personas))
	members := make([]Persona, 0, len(personas))
	for _, p := range personas {
		if !p.Valid() {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		members = append(members, p)
	}
	return Set{members: members}
}

// FullSet returns a Set containing all three personas.
func FullSet() Set {
	return NewSet(All...)
}

// Contains reports whether p is enabled.
func (s Set) Contains(p Persona) bool {
	for _, m := range s.members {
		if m == p {
			return true
		}
	}
	return false
}

// Len returns the number of enabled personas.
func (s Set) Len() int { return len(s.members) }

// Members returns the enabled personas in order. The returned slice is a
// copy; mutating it does not affect the Set.
func (s Set) Members() []Persona {
	out := make([]Persona, len(s.members))
	copy(out, s.members)
	return out
}

// First returns the first enabled persona. It panics on an empty set;
// callers must check Len first (an empty enabled set is rejected at the
// turn boundary).
func (s Set) First() Persona {
	return s.members[0]
}

// String renders the set as a comma-separated list of canonical names.
func (s Set) String() string {
	names := make([]string, len(s.members))
	for i, m := range s.members {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}
