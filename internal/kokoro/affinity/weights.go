// Package affinity implements Kokoro's per-user affinity model: the
// persistent, normalised preference vector over personas, the transient
// per-conversation session boosts that decay each exchange, and the
// variability curve that controls how plastic the persistent vector still
// is.
//
// The persistent vector is only ever mutated through ApplyDelta, which
// clamps and re-normalises on every update. Code that writes weight fields
// directly is a bug, not a style choice: the sum-to-1.0 invariant is what
// keeps routing scores comparable across users.
package affinity

import (
	"fmt"
	"math"

	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

const (
	// MinWeight and MaxWeight bound each component of the persistent
	// vector. No persona ever fully disappears (min 10%) or fully dominates
	// (max 60%).
	MinWeight = 0.10
	MaxWeight = 0.60

	// VariabilityCeiling is the lifetime message count at which the
	// persistent vector becomes fully rigid.
	VariabilityCeiling = 10_000
)

// Weights is a 3-way vector over personas. For the persistent affinity
// vector the components are clamped to [MinWeight, MaxWeight] and sum to
// 1.0; the same type is reused for unclamped working vectors (session
// boosts, deltas, combined routing weights) where those invariants do not
// apply.
type Weights struct {
	Instinct float64
	Logic    float64
	Psyche   float64
}

// DefaultWeights is the persistent vector assigned to a user on first use.
func DefaultWeights() Weights {
	return Weights{Instinct: 0.20, Logic: 0.50, Psyche: 0.30}
}

// Get returns the component for p.
func (w Weights) Get(p persona.Persona) float64 {
	switch p {
	case persona.Instinct:
		return w.Instinct
	case persona.Logic:
		return w.Logic
	case persona.Psyche:
		return w.Psyche
	default:
		return 0
	}
}

// Set returns a copy of w with the component for p replaced.
func (w Weights) Set(p persona.Persona, v float64) Weights {
	switch p {
	case persona.Instinct:
		w.Instinct = v
	case persona.Logic:
		w.Logic = v
	case persona.Psyche:
		w.Psyche = v
	}
	return w
}

// Add returns the component-wise sum of w and other.
func (w Weights) Add(other Weights) Weights {
	return Weights{
		Instinct: w.Instinct + other.Instinct,
		Logic:    w.Logic + other.Logic,
		Psyche:   w.Psyche + other.Psyche,
	}
}

// Scale returns w with every component multiplied by f.
func (w Weights) Scale(f float64) Weights {
	return Weights{
		Instinct: w.Instinct * f,
		Logic:    w.Logic * f,
		Psyche:   w.Psyche * f,
	}
}

// Sum returns the total of the three components.
func (w Weights) Sum() float64 {
	return w.Instinct + w.Logic + w.Psyche
}

// String renders the vector for log lines.
func (w Weights) String() string {
	return fmt.Sprintf("I=%.3f L=%.3f P=%.3f", w.Instinct, w.Logic, w.Psyche)
}

// Validate reports whether w satisfies the persistent-vector invariants:
// every component within [MinWeight, MaxWeight] and the components summing
// to 1.0 (within floating-point tolerance). A violation is a programming
// error: some code path mutated weights without going through ApplyDelta.
func (w Weights) Validate() error {
	for _, p := range persona.All {
		v := w.Get(p)
		if v < MinWeight-1e-9 || v > MaxWeight+1e-9 {
			return fmt.Errorf("affinity: %s weight %.4f outside [%.2f, %.2f]", p, v, MinWeight, MaxWeight)
		}
	}
	if d := math.Abs(w.Sum() - 1.0); d > 1e-6 {
		return fmt.Errorf("affinity: weights sum to %.6f, want 1.0", w.Sum())
	}
	return nil
}

// ApplyDelta is the only legal mutator of a persistent affinity vector.
//
// The raw delta is scaled by variability (how plastic the user model still
// is), added component-wise, clamped to [MinWeight, MaxWeight], and
// re-normalised to sum to 1.0. The result satisfies Validate for any input
// magnitude or sign, including adversarial deltas like {-10, +10, 0}.
func ApplyDelta(current Weights, rawDelta Weights, variability float64) Weights {
	next := current.Add(rawDelta.Scale(variability))

	next.Instinct = clamp(next.Instinct, MinWeight, MaxWeight)
	next.Logic = clamp(next.Logic, MinWeight, MaxWeight)
	next.Psyche = clamp(next.Psyche, MinWeight, MaxWeight)

	return normaliseClamped(next)
}

// normaliseClamped rescales w to sum to 1.0 while keeping every component
// inside [MinWeight, MaxWeight].
//
// A plain divide-by-sum is not enough: normalising (0.60, 0.10, 0.10)
// would yield 0.75 for the first component, breaking the upper bound. So
// components that would leave the range are pinned at their bound and the
// remaining mass is redistributed proportionally over the free components.
// With three components and these bounds (3x0.10 <= 1.0 <= 3x0.60) the
// loop always terminates with a valid vector.
func normaliseClamped(w Weights) Weights {
	vals := [3]float64{w.Instinct, w.Logic, w.Psyche}
	pinned := [3]bool{}

	for range vals {
		freeSum, pinnedSum := 0.0, 0.0
		for i, v := range vals {
			if pinned[i] {
				pinnedSum += v
			} else {
				freeSum += v
			}
		}
		remaining := 1.0 - pinnedSum
		if freeSum == 0 {
			break
		}
		scale := remaining / freeSum

		overflow := false
		for i := range vals {
			if pinned[i] {
				continue
			}
			scaled := vals[i] * scale
			switch {
			case scaled < MinWeight:
				vals[i] = MinWeight
				pinned[i] = true
				overflow = true
			case scaled > MaxWeight:
				vals[i] = MaxWeight
				pinned[i] = true
				overflow = true
			default:
				vals[i] = scaled
			}
		}
		if !overflow {
			break
		}
	}

	return Weights{Instinct: vals[0], Logic: vals[1], Psyche: vals[2]}
}

// Variability maps a lifetime message count to how much any single exchange
// may still move the persistent vector, in [0, 1].
//
// The curve is de-exponential: steep early learning, gradual settling.
//   - 0 messages:      1.00 (fully plastic)
//   - 100 messages:    0.90
//   - 2 500 messages:  0.50
//   - 10 000 messages: 0.00 (identity has settled)
func Variability(totalMessages int64) float64 {
	if totalMessages <= 0 {
		return 1.0
	}
	progress := math.Min(float64(totalMessages)/float64(VariabilityCeiling), 1.0)
	return 1.0 - math.Sqrt(progress)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
