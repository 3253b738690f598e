package hillclimb

import (
	"math"
	"testing"

	"github.com/andrewcowman/HillClimbing/internal/optimization"
	"github.com/andrewcowman/HillClimbing/internal/optimization/objectives"
)

// quadraticScorer scores (x[0]-target)^2.
func quadraticScorer(target float64) optimization.Scorer {
	return optimization.ScorerFunc(func(p optimization.Params) (float64, error) {
		d := p.AtVec(0) - target
		return d * d, nil
	})
}

// rastriginObjective is the registry's multimodal test function, minimum 0 at
// the origin.
var rastriginObjective = mustObjective("rastrigin")

func mustObjective(name string) optimization.ObjectiveFunction {
	o, ok := objectives.Lookup(name)
	if !ok {
		panic("objective " + name + " is not registered")
	}
	return o.Func
}

// constantScorer ignores its input.
func constantScorer(v float64) optimization.Scorer {
	return optimization.ScorerFunc(func(optimization.Params) (float64, error) {
		return v, nil
	})
}

// recordingScorer wraps a scorer and keeps a copy of every vector it sees.
type recordingScorer struct {
	inner optimization.Scorer
	seen  [][]float64
}

func (r *recordingScorer) Score(p optimization.Params) (float64, error) {
	snap := make([]float64, p.Len())
	for i := range snap {
		snap[i] = p.AtVec(i)
	}
	r.seen = append(r.seen, snap)
	return r.inner.Score(p)
}

// assertFloat64SlicesEqual checks if two float64 slices are approximately equal
func assertFloat64SlicesEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// assertBitsEqual checks that two slices hold bit-identical values.
func assertBitsEqual(t *testing.T, got, want []float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Float64bits(got[i]) != math.Float64bits(want[i]) {
			t.Fatalf("at index %d: got %v (%#x), want %v (%#x)",
				i, got[i], math.Float64bits(got[i]), want[i], math.Float64bits(want[i]))
		}
	}
}
