// Package routing implements Kokoro's heuristic turn router: the pure,
// deterministic function that decides which persona speaks first on a user
// turn and whether a second perspective joins in.
//
// Routing never calls out of process. Scores start from the combined
// persistent+session affinity vector, get keyword boosts from the persona
// cards, and get a fairness correction for personas the conversation has
// been ignoring. For fixed inputs the decision is fully reproducible, which
// is what keeps routing on the synchronous response path.
package routing

import (
	"sort"
	"strings"

	"github.com/bdobrica/Kokoro/internal/kokoro/affinity"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

// Config carries the router's tuning constants. These are product-tuned
// values, not invariants; Defaults documents the shipped settings.
type Config struct {
	// KeywordBoost is added to a persona's score once per keyword from its
	// card found in the message.
	KeywordBoost float64

	// CloseCallThreshold is the score gap under which the runner-up is
	// added as a secondary perspective.
	CloseCallThreshold float64

	// SilenceTurns is how many consecutive user turns a persona must have
	// been silent for before the fairness correction kicks in.
	SilenceTurns int

	// SilenceBoost is the score added to a persona silent for at least
	// SilenceTurns user turns.
	SilenceBoost float64

	// HistoryWindow is how many recent user turns the silence scan
	// considers.
	HistoryWindow int
}

// Defaults returns the shipped router tuning.
func Defaults() Config {
	return Config{
		KeywordBoost:       0.15,
		CloseCallThreshold: 0.15,
		SilenceTurns:       3,
		SilenceBoost:       0.2,
		HistoryWindow:      5,
	}
}

// HistoryEntry is the router's view of one prior message: who spoke. User
// turns carry User=true; persona turns carry the speaker. System entries
// are filtered out before the history reaches the router.
type HistoryEntry struct {
	User    bool
	Speaker persona.Persona
}

// Secondary describes the optional second responder of a turn.
type Secondary struct {
	Persona persona.Persona
	Mode    persona.Mode
}

// Decision is the router's output for one turn. When FanOut is set, every
// enabled persona beyond the primary responds (explicit all-personas
// request); Secondary is nil in that case.
type Decision struct {
	Primary   persona.Persona
	Secondary *Secondary
	FanOut    bool
}

// allPersonaPhrases are the message substrings treated as an explicit
// request to hear from every persona.
var allPersonaPhrases = []string{
	"all of you",
	"all three",
	"each of you",
	"everyone",
	"hear from all",
	"want to hear from each",
	"all your perspectives",
}

// Router scores personas for a message. Construct once with the loaded
// persona cards; Route is safe for concurrent use.
type Router struct {
	cfg   Config
	cards *persona.Cards
}

// New returns a Router using cfg and the keyword sets from cards.
func New(cfg Config, cards *persona.Cards) *Router {
	return &Router{cfg: cfg, cards: cards}
}

// Route picks the responders for one user turn.
//
// combined is the persistent+session weight vector (unnormalised, possibly
// outside [0,1]); enabled is the set of personas allowed to speak; history
// is recent messages oldest-first; challenge inverts weight scoring so
// habitually under-weighted personas surface.
func (r *Router) Route(message string, combined affinity.Weights, enabled persona.Set, history []HistoryEntry, challenge bool) Decision {
	// Terminal case: with fewer than two personas there is nothing to score.
	if enabled.Len() <= 1 {
		return Decision{Primary: enabled.First()}
	}

	msgLower := strings.ToLower(message)

	// Explicit all-personas request, honoured only when the full trio is
	// enabled; with two personas a plain secondary covers it.
	if enabled.Len() >= persona.Count && isAllPersonaRequest(msgLower) {
		return Decision{Primary: enabled.First(), FanOut: true}
	}

	scores := r.score(msgLower, combined, enabled, history, challenge)

	ranked := rank(scores, enabled)
	primary := ranked[0].p

	var secondary *Secondary
	switch {
	case challenge:
		// Challenge mode always adds an adversarial second perspective.
		secondary = &Secondary{Persona: ranked[1].p, Mode: persona.ModeRebuttal}
	case ranked[0].score-ranked[1].score < r.cfg.CloseCallThreshold:
		// Close call: the runner-up has a comparably relevant perspective.
		secondary = &Secondary{Persona: ranked[1].p, Mode: persona.ModeAddition}
	}

	// Fairness override, applied last: a persona silent past the threshold
	// must appear in the decision even if scoring did not pick it.
	if forced, ok := r.silencedPersona(history, enabled); ok {
		if forced != primary && (secondary == nil || secondary.Persona != forced) {
			mode := persona.ModeAddition
			if challenge {
				mode = persona.ModeRebuttal
			}
			secondary = &Secondary{Persona: forced, Mode: mode}
		}
	}

	return Decision{Primary: primary, Secondary: secondary}
}

// score computes the per-persona routing score.
func (r *Router) score(msgLower string, combined affinity.Weights, enabled persona.Set, history []HistoryEntry, challenge bool) map[persona.Persona]float64 {
	scores := make(map[persona.Persona]float64, enabled.Len())

	for _, p := range enabled.Members() {
		w := combined.Get(p)
		if challenge {
			// Invert so minority perspectives surface when the user has
			// opted into confrontation.
			w = 1.0 - w
		}
		scores[p] = w

		for _, kw := range r.cards.Keywords(p) {
			if strings.Contains(msgLower, kw) {
				scores[p] += r.cfg.KeywordBoost
			}
		}
	}

	for p, turns := range r.silenceCounts(history, enabled) {
		if turns >= r.cfg.SilenceTurns {
			scores[p] += r.cfg.SilenceBoost
		}
	}

	return scores
}

// silenceCounts walks history backward counting, per enabled persona, how
// many consecutive user turns have passed since that persona last spoke.
// The scan stops after Config.HistoryWindow user turns.
func (r *Router) silenceCounts(history []HistoryEntry, enabled persona.Set) map[persona.Persona]int {
	counts := make(map[persona.Persona]int, enabled.Len())
	spoken := make(map[persona.Persona]bool, enabled.Len())

	userTurns := 0
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		if entry.User {
			userTurns++
			// Every persona that stayed silent through this user turn has
			// one more turn of silence.
			for _, p := range enabled.Members() {
				if !spoken[p] {
					counts[p]++
				}
			}
			if userTurns >= r.cfg.HistoryWindow {
				break
			}
			continue
		}
		if enabled.Contains(entry.Speaker) {
			spoken[entry.Speaker] = true
		}
	}

	return counts
}

// silencedPersona returns the enabled persona with the longest silence at
// or past the threshold, if any. Ties break in canonical persona order so
// the decision stays deterministic.
func (r *Router) silencedPersona(history []HistoryEntry, enabled persona.Set) (persona.Persona, bool) {
	counts := r.silenceCounts(history, enabled)

	best := persona.Persona(-1)
	bestTurns := 0
	for _, p := range persona.All {
		if !enabled.Contains(p) {
			continue
		}
		if turns := counts[p]; turns >= r.cfg.SilenceTurns && turns > bestTurns {
			best, bestTurns = p, turns
		}
	}
	if bestTurns == 0 {
		return 0, false
	}
	return best, true
}

type scored struct {
	p     persona.Persona
	score float64
}

// rank orders enabled personas by descending score. Ties preserve the
// enabled set's declaration order (stable sort over Members order), which
// keeps routing deterministic for identical inputs.
func rank(scores map[persona.Persona]float64, enabled persona.Set) []scored {
	ranked := make([]scored, 0, enabled.Len())
	for _, p := range enabled.Members() {
		ranked = append(ranked, scored{p: p, score: scores[p]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

func isAllPersonaRequest(msgLower string) bool {
	for _, phrase := range allPersonaPhrases {
		if strings.Contains(msgLower, phrase) {
			return true
		}
	}
	return false
}
