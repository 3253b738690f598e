package hillclimb

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/andrewcowman/HillClimbing/internal/optimization"
)

func TestNew(t *testing.T) {
	x := optimization.Vector{0, 0, 0}
	hc, err := New(x, constantScorer(1), 1.2, 0.5)
	require.NoError(t, err)

	assertFloat64SlicesEqual(t, hc.Candidates(), []float64{-1.2, -1 / 1.2, 0, 1 / 1.2, 1.2}, 1e-15)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, hc.StepSizes())
	assert.Equal(t, 3, hc.Dimensions())
	assert.Equal(t, 0, hc.Evaluations())

	best, ok := hc.BestError()
	assert.False(t, ok, "no evaluation has happened yet")
	assert.Equal(t, math.MaxFloat64, best)
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name   string
		params optimization.Params
		scorer optimization.Scorer
		accel  float64
		want   error
	}{
		{"zero acceleration", optimization.Vector{0}, constantScorer(0), 0, optimization.ErrInvalidAcceleration},
		{"negative acceleration", optimization.Vector{0}, constantScorer(0), -1.2, optimization.ErrInvalidAcceleration},
		{"NaN acceleration", optimization.Vector{0}, constantScorer(0), math.NaN(), optimization.ErrInvalidAcceleration},
		{"infinite acceleration", optimization.Vector{0}, constantScorer(0), math.Inf(1), optimization.ErrInvalidAcceleration},
		{"subnormal acceleration", optimization.Vector{0}, constantScorer(0), 1e-310, optimization.ErrInvalidAcceleration},
		{"nil params", nil, constantScorer(0), 1.2, optimization.ErrNilParams},
		{"nil scorer", optimization.Vector{0}, nil, 1.2, optimization.ErrNilScorer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc, err := New(tt.params, tt.scorer, tt.accel, 1)
			require.Error(t, err)
			assert.Nil(t, hc)
			assert.ErrorIs(t, err, tt.want)

			oe, ok := optimization.IsOptimizationError(err)
			require.True(t, ok)
			assert.Equal(t, "hillclimb", oe.Component)
		})
	}
}

func TestValidateAcceleration(t *testing.T) {
	for _, a := range []float64{0.5, 1, 1.2, 2, 1e-300, 1e300} {
		assert.NoError(t, ValidateAcceleration(a), "acceleration %v", a)
	}
	for _, a := range []float64{0, -1, 1e-310, math.SmallestNonzeroFloat64, math.NaN(), math.Inf(-1)} {
		assert.ErrorIs(t, ValidateAcceleration(a), optimization.ErrInvalidAcceleration, "acceleration %v", a)
	}

	hc, err := New(optimization.Vector{0}, constantScorer(1), 1e-300, 1)
	require.NoError(t, err)
	for _, c := range hc.Candidates() {
		assert.False(t, math.IsInf(c, 0), "candidate %v", c)
	}
}

func TestIterationRestoresEachTrial(t *testing.T) {
	x := optimization.Vector{0.1, 0.7}
	rec := &recordingScorer{inner: constantScorer(5)}
	hc, err := New(x, rec, 1.3, 0.3)
	require.NoError(t, err)

	require.NoError(t, hc.Iteration())
	require.Len(t, rec.seen, 10)

	c := hc.Candidates()
	// Dimension 0: each trial starts from the untouched original.
	for j := 0; j < 5; j++ {
		assertFloat64SlicesEqual(t, rec.seen[j], []float64{0.1 + 0.3*c[j], 0.7}, 1e-15)
		assertBitsEqual(t, rec.seen[j][1:], []float64{0.7})
	}
	// Dimension 1 sees dimension 0 after its winning (-a) move.
	moved := rec.seen[0][0]
	for j := 0; j < 5; j++ {
		assertBitsEqual(t, rec.seen[5+j][:1], []float64{moved})
		assertFloat64SlicesEqual(t, rec.seen[5+j], []float64{0.1 + 0.3*c[0], 0.7 + 0.3*c[j]}, 1e-15)
	}
	assertBitsEqual(t, x[:1], []float64{moved})
}

func TestIterationKeepsRejectedValueBitIdentical(t *testing.T) {
	// The optimum sits exactly on the starting point, so "stay put" wins and
	// every other trial must be undone without drift.
	start := 0.1 + 0.2
	x := optimization.Vector{start}
	hc, err := New(x, quadraticScorer(start), 1.7, 0.3)
	require.NoError(t, err)

	require.NoError(t, hc.Iteration())
	assertBitsEqual(t, x, []float64{start})
	assert.Equal(t, 0.0, hc.StepSizes()[0])
}

func TestIterationComposesSequentially(t *testing.T) {
	// f = (x0-2)^2 + (x1-x0)^2. With x0 still at 0, dimension 1 would prefer
	// to stay put; after x0 moves to 0.5 it prefers +0.5.
	x := optimization.Vector{0, 0}
	scorer := optimization.ScorerFunc(func(p optimization.Params) (float64, error) {
		a := p.AtVec(0) - 2
		b := p.AtVec(1) - p.AtVec(0)
		return a*a + b*b, nil
	})
	hc, err := New(x, scorer, 2, 1)
	require.NoError(t, err)

	require.NoError(t, hc.Iteration())

	assert.Equal(t, []float64{0.5, 0.5}, []float64(x))
	assert.Equal(t, []float64{0.5, 0.5}, hc.StepSizes())
	best, ok := hc.BestError()
	assert.True(t, ok)
	assert.Equal(t, 2.25, best)
}

func TestIterationTieBreak(t *testing.T) {
	t.Run("contractions tie", func(t *testing.T) {
		// (|x|-0.5)^2 scores -1/a and +1/a identically at a=2.
		x := optimization.Vector{0}
		scorer := optimization.ScorerFunc(func(p optimization.Params) (float64, error) {
			d := math.Abs(p.AtVec(0)) - 0.5
			return d * d, nil
		})
		hc, err := New(x, scorer, 2, 1)
		require.NoError(t, err)

		require.NoError(t, hc.Iteration())
		assert.Equal(t, -0.5, x[0])
		assert.Equal(t, -0.5, hc.StepSizes()[0])
	})

	t.Run("constant scorer picks the first candidate", func(t *testing.T) {
		x := optimization.Vector{0.5, 0.25}
		hc, err := New(x, constantScorer(7), 1.2, 1)
		require.NoError(t, err)

		require.NoError(t, hc.Iteration())
		assertFloat64SlicesEqual(t, x, []float64{0.5 - 1.2, 0.25 - 1.2}, 1e-12)
		assert.Equal(t, []float64{-1.2, -1.2}, hc.StepSizes())

		best, ok := hc.BestError()
		assert.True(t, ok)
		assert.Equal(t, 7.0, best)
	})
}

func TestIterationAbsorbingZero(t *testing.T) {
	x := optimization.Vector{3, 1}
	scorer := optimization.ScorerFunc(func(p optimization.Params) (float64, error) {
		a := p.AtVec(0) - 3
		b := p.AtVec(1) + 4
		return a*a + b*b, nil
	})
	hc, err := New(x, scorer, 1.2, 1)
	require.NoError(t, err)

	require.NoError(t, hc.Iteration())
	require.Equal(t, 0.0, hc.StepSizes()[0], "stay put wins on the optimum")
	require.Equal(t, 1, hc.Inert())

	for i := 0; i < 25; i++ {
		require.NoError(t, hc.Iteration())
		assert.Equal(t, 3.0, x[0])
		assert.Equal(t, 0.0, hc.StepSizes()[0])
	}
}

func TestIterationBestErrorNonIncreasing(t *testing.T) {
	x := optimization.Vector{0.3, -0.4, 0.25}
	hc, err := New(x, optimization.ObjectiveScorer(rastriginObjective), 1.2, 1)
	require.NoError(t, err)

	prev := math.Inf(1)
	for i := 0; i < 30; i++ {
		require.NoError(t, hc.Iteration())
		best, ok := hc.BestError()
		require.True(t, ok)
		assert.LessOrEqual(t, best, prev, "iteration %d", i)
		prev = best
	}
	assert.Equal(t, 30*5*3, hc.Evaluations())
}

func TestIterationQuadraticConverges(t *testing.T) {
	x := optimization.Vector{0}
	hc, err := New(x, quadraticScorer(3), 2, 1)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, hc.Iteration())
	}

	assert.InDelta(t, 3.0, x[0], 0.01)
	best, _ := hc.BestError()
	assert.InDelta(t, 0.0, best, 1e-9)
}

func TestIterationQuadraticStallsWhenStayPutWins(t *testing.T) {
	// a=1.2, s0=1 from 0: +a wins twice (x=1.2, then x=2.64 with step 1.44).
	// On the third sweep every move overshoots, "stay put" wins and the step
	// collapses to zero for good.
	x := optimization.Vector{0}
	hc, err := New(x, quadraticScorer(3), 1.2, 1)
	require.NoError(t, err)

	require.NoError(t, hc.Iteration())
	assert.InDelta(t, 1.2, x[0], 1e-12)
	assert.InDelta(t, 1.2, hc.StepSizes()[0], 1e-12)

	require.NoError(t, hc.Iteration())
	assert.InDelta(t, 2.64, x[0], 1e-12)
	assert.InDelta(t, 1.44, hc.StepSizes()[0], 1e-12)

	for i := 0; i < 48; i++ {
		require.NoError(t, hc.Iteration())
	}
	assert.InDelta(t, 2.64, x[0], 1e-12)
	assert.Equal(t, 0.0, hc.StepSizes()[0])
	best, _ := hc.BestError()
	assert.InDelta(t, 0.1296, best, 1e-12)
}

func TestIterationScorerError(t *testing.T) {
	errBoom := errors.New("boom")
	x := optimization.Vector{1, 2}
	calls := 0
	scorer := optimization.ScorerFunc(func(p optimization.Params) (float64, error) {
		calls++
		if calls == 3 {
			return 0, errBoom
		}
		return 1, nil
	})
	hc, err := New(x, scorer, 1.2, 1)
	require.NoError(t, err)

	err = hc.Iteration()
	assert.Same(t, errBoom, err)
	assert.Equal(t, []float64{1, 2}, []float64(x), "trial value must be undone")
	assert.Equal(t, []float64{1, 1}, hc.StepSizes())
	assert.Equal(t, 2, hc.Evaluations())
}

func TestIterationNaNScoresNeverWin(t *testing.T) {
	x := optimization.Vector{1}
	hc, err := New(x, constantScorer(math.NaN()), 1.2, 1)
	require.NoError(t, err)

	require.NoError(t, hc.Iteration())
	assert.Equal(t, 1.0, x[0])
	assert.Equal(t, []float64{1}, hc.StepSizes())

	_, ok := hc.BestError()
	assert.False(t, ok)
}

func TestIterationEmptyVector(t *testing.T) {
	hc, err := New(optimization.Vector{}, constantScorer(1), 1.2, 1)
	require.NoError(t, err)

	require.NoError(t, hc.Iteration())
	assert.Equal(t, 0, hc.Evaluations())
	_, ok := hc.BestError()
	assert.False(t, ok)
}

func TestIterationOnVecDense(t *testing.T) {
	v := mat.NewVecDense(2, []float64{0, 0})
	scorer := optimization.ScorerFunc(func(p optimization.Params) (float64, error) {
		a := p.AtVec(0) - 3
		b := p.AtVec(1) + 1
		return a*a + b*b, nil
	})
	hc, err := New(v, scorer, 2, 1)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, hc.Iteration())
	}
	assert.InDelta(t, 3.0, v.AtVec(0), 0.01)
	assert.InDelta(t, -1.0, v.AtVec(1), 0.01)
}
