package affinity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
)

func TestDefaultWeightsValid(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights invalid: %v", err)
	}
}

func TestApplyDelta_InvariantsHoldForRandomDeltas(t *testing.T) {
	// Property: regardless of delta magnitude or sign, the output always
	// has components in [0.10, 0.60] summing to 1.0.
	rng := rand.New(rand.NewSource(42))

	current := DefaultWeights()
	for i := 0; i < 5000; i++ {
		delta := Weights{
			Instinct: (rng.Float64() - 0.5) * 20,
			Logic:    (rng.Float64() - 0.5) * 20,
			Psyche:   (rng.Float64() - 0.5) * 20,
		}
		variability := rng.Float64()

		current = ApplyDelta(current, delta, variability)
		if err := current.Validate(); err != nil {
			t.Fatalf("iteration %d: delta=%+v variability=%.3f: %v", i, delta, variability, err)
		}
	}
}

func TestApplyDelta_ExtremeDeltasClampToBounds(t *testing.T) {
	tests := []struct {
		name  string
		delta Weights
		check func(t *testing.T, got Weights)
	}{
		{
			name:  "huge positive logic delta pins logic at max",
			delta: Weights{Logic: 100},
			check: func(t *testing.T, got Weights) {
				if got.Logic > MaxWeight+1e-9 {
					t.Errorf("logic = %.4f, want <= %.2f", got.Logic, MaxWeight)
				}
			},
		},
		{
			name:  "huge negative psyche delta pins psyche at min",
			delta: Weights{Psyche: -100},
			check: func(t *testing.T, got Weights) {
				if got.Psyche < MinWeight-1e-9 {
					t.Errorf("psyche = %.4f, want >= %.2f", got.Psyche, MinWeight)
				}
			},
		},
		{
			name:  "all components slammed negative",
			delta: Weights{Instinct: -50, Logic: -50, Psyche: -50},
			check: func(t *testing.T, got Weights) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyDelta(DefaultWeights(), tt.delta, 1.0)
			if err := got.Validate(); err != nil {
				t.Fatalf("invariants violated: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestApplyDelta_ZeroVariabilityIsIdentity(t *testing.T) {
	current := DefaultWeights()
	got := ApplyDelta(current, Weights{Instinct: 5, Logic: -3, Psyche: 1}, 0)
	if math.Abs(got.Instinct-current.Instinct) > 1e-9 ||
		math.Abs(got.Logic-current.Logic) > 1e-9 ||
		math.Abs(got.Psyche-current.Psyche) > 1e-9 {
		t.Errorf("weights moved with zero variability: %v -> %v", current, got)
	}
}

func TestApplyDelta_PositiveDeltaMovesComponentUp(t *testing.T) {
	current := DefaultWeights()
	got := ApplyDelta(current, Weights{Instinct: 0.05}, 1.0)
	if got.Instinct <= current.Instinct {
		t.Errorf("instinct did not grow: %.4f -> %.4f", current.Instinct, got.Instinct)
	}
}

func TestVariability_Bounds(t *testing.T) {
	if got := Variability(0); got != 1.0 {
		t.Errorf("Variability(0) = %v, want 1.0", got)
	}
	if got := Variability(VariabilityCeiling); got != 0.0 {
		t.Errorf("Variability(ceiling) = %v, want 0.0", got)
	}
	if got := Variability(VariabilityCeiling * 10); got != 0.0 {
		t.Errorf("Variability(10x ceiling) = %v, want 0.0", got)
	}
}

func TestVariability_NonIncreasing(t *testing.T) {
	prev := Variability(0)
	for n := int64(1); n <= VariabilityCeiling; n += 97 {
		got := Variability(n)
		if got > prev {
			t.Fatalf("Variability(%d) = %v > Variability(previous) = %v", n, got, prev)
		}
		prev = got
	}
}

func TestVariability_CurveShape(t *testing.T) {
	// Fast early learning: 100 messages should still be highly plastic.
	if got := Variability(100); math.Abs(got-0.9) > 0.01 {
		t.Errorf("Variability(100) = %v, want ~0.90", got)
	}
	// Half plasticity at a quarter of the ceiling.
	if got := Variability(2500); math.Abs(got-0.5) > 0.01 {
		t.Errorf("Variability(2500) = %v, want ~0.50", got)
	}
}

func TestWeightsGetSet(t *testing.T) {
	var w Weights
	for i, p := range persona.All {
		w = w.Set(p, float64(i+1))
	}
	if w.Get(persona.Instinct) != 1 || w.Get(persona.Logic) != 2 || w.Get(persona.Psyche) != 3 {
		t.Errorf("unexpected components: %+v", w)
	}
}
