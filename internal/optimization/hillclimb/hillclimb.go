// Package hillclimb implements hill climbing with an adaptive per-dimension
// step size.
//
// Each iteration sweeps every dimension in order and tries five relative
// moves {-a, -1/a, 0, 1/a, a} scaled by that dimension's step size. The move
// with the lowest score is applied and the step size is multiplied by the
// winning factor. A winning "stay put" therefore collapses the step to zero,
// and a zero step size is absorbing: that dimension never moves again.
package hillclimb

import (
	"fmt"
	"math"

	"github.com/andrewcowman/HillClimbing/internal/optimization"
)

const component = "hillclimb"

// noEvaluation is the best-error value reported before any candidate has
// been scored.
const noEvaluation = math.MaxFloat64

// HillClimb holds the search state for one parameter vector.
//
// The parameter vector is borrowed: HillClimb writes to it during Iteration
// and nothing else may touch it while an iteration runs. HillClimb is not
// safe for concurrent use.
type HillClimb struct {
	params     optimization.Params
	scorer     optimization.Scorer
	stepSize   []float64
	candidates [5]float64

	bestError   float64
	evaluated   bool
	evaluations int
}

// New creates a hill climber bound to params and scorer. Every dimension
// starts with the same stepSize; accel sets the candidate moves.
func New(params optimization.Params, scorer optimization.Scorer, accel, stepSize float64) (*HillClimb, error) {
	if params == nil {
		return nil, &optimization.Error{Component: component, Op: "new", Err: optimization.ErrNilParams}
	}
	if scorer == nil {
		return nil, &optimization.Error{Component: component, Op: "new", Err: optimization.ErrNilScorer}
	}
	if err := ValidateAcceleration(accel); err != nil {
		return nil, err
	}

	hc := &HillClimb{
		params:    params,
		scorer:    scorer,
		stepSize:  make([]float64, params.Len()),
		bestError: noEvaluation,
	}
	for i := range hc.stepSize {
		hc.stepSize[i] = stepSize
	}
	hc.candidates = [5]float64{-accel, -(1 / accel), 0, 1 / accel, accel}

	return hc, nil
}

// ValidateAcceleration reports whether accel can build a finite candidate
// table. Zero would divide by zero, and a subnormal factor overflows 1/accel
// to infinity. Negative, NaN and infinite factors are rejected as well.
func ValidateAcceleration(accel float64) error {
	if accel <= 0 || math.IsNaN(accel) || math.IsInf(accel, 0) || math.IsInf(1/accel, 0) {
		return &optimization.Error{
			Component: component,
			Op:        "new",
			Message:   fmt.Sprintf("acceleration %v", accel),
			Err:       optimization.ErrInvalidAcceleration,
		}
	}
	return nil
}

// Iteration performs one sweep over every dimension.
//
// Dimensions are improved one after another, so dimension i+1 is scored
// against the vector with dimension i's winning move already applied. Ties
// go to the earliest candidate in {-a, -1/a, 0, 1/a, a}. A NaN score never
// wins a comparison; if every candidate of a dimension scores NaN the
// dimension is left alone.
//
// A scorer error stops the sweep: the entry under trial is restored and the
// error is returned as is.
func (hc *HillClimb) Iteration() error {
	n := len(hc.stepSize)
	for i := 0; i < n; i++ {
		orig := hc.params.AtVec(i)
		step := hc.stepSize[i]

		best := -1
		bestScore := math.Inf(1)

		for j, c := range hc.candidates {
			hc.params.SetVec(i, orig+step*c)
			score, err := hc.scorer.Score(hc.params)
			hc.params.SetVec(i, orig)
			if err != nil {
				return err
			}
			hc.evaluations++

			if score < bestScore {
				bestScore = score
				best = j
				hc.observe(score)
			}
		}

		if best == -1 {
			continue
		}
		hc.params.SetVec(i, orig+step*hc.candidates[best])
		hc.stepSize[i] = step * hc.candidates[best]
	}
	return nil
}

func (hc *HillClimb) observe(score float64) {
	if !hc.evaluated || score < hc.bestError {
		hc.bestError = score
		hc.evaluated = true
	}
}

// BestError returns the lowest score seen so far. The boolean is false until
// the first candidate has been scored, in which case the value is
// math.MaxFloat64.
func (hc *HillClimb) BestError() (float64, bool) {
	return hc.bestError, hc.evaluated
}

// Evaluations returns how many times the scorer has been called.
func (hc *HillClimb) Evaluations() int {
	return hc.evaluations
}

// Dimensions returns the number of parameters being tuned.
func (hc *HillClimb) Dimensions() int {
	return len(hc.stepSize)
}

// StepSizes returns a copy of the current per-dimension step sizes.
func (hc *HillClimb) StepSizes() []float64 {
	return append([]float64(nil), hc.stepSize...)
}

// Candidates returns the candidate multipliers in trial order.
func (hc *HillClimb) Candidates() []float64 {
	return append([]float64(nil), hc.candidates[:]...)
}

// Inert returns the number of dimensions whose step size has collapsed to
// zero.
func (hc *HillClimb) Inert() int {
	n := 0
	for _, s := range hc.stepSize {
		if s == 0 {
			n++
		}
	}
	return n
}
