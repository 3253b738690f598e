package optimization

import (
	"context"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process
	Optimize(ctx context.Context, config OptimizerConfig) (*OptimizationResult, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of evaluations
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// Params is a fixed-length, index-addressable vector of reals that an
// optimizer mutates in place. *mat.VecDense from gonum satisfies it.
type Params interface {
	Len() int
	AtVec(i int) float64
	SetVec(i int, v float64)
}

// Scorer maps the current contents of a parameter vector to an error value.
// Lower is better. Implementations must only read p and must not retain it.
type Scorer interface {
	Score(p Params) (float64, error)
}

// ScorerFunc adapts an ordinary function to the Scorer interface.
type ScorerFunc func(p Params) (float64, error)

// Score calls f(p).
func (f ScorerFunc) Score(p Params) (float64, error) {
	return f(p)
}

// ObjectiveFunction defines the function to be optimized
type ObjectiveFunction func([]float64) (float64, error)

// ObjectiveScorer adapts a slice objective to a Scorer. When the container is
// a Vector the objective reads it without copying.
func ObjectiveScorer(fn ObjectiveFunction) Scorer {
	var buf []float64
	return ScorerFunc(func(p Params) (float64, error) {
		if v, ok := p.(Vector); ok {
			return fn(v)
		}
		n := p.Len()
		if cap(buf) < n {
			buf = make([]float64, n)
		}
		buf = buf[:n]
		for i := range buf {
			buf[i] = p.AtVec(i)
		}
		return fn(buf)
	})
}

// Vector is a plain slice-backed Params.
type Vector []float64

func (v Vector) Len() int                { return len(v) }
func (v Vector) AtVec(i int) float64     { return v[i] }
func (v Vector) SetVec(i int, x float64) { v[i] = x }

// OptimizerConfig contains configuration for the optimizer
type OptimizerConfig struct {
	// Objective function to optimize
	Objective ObjectiveFunction

	// Initial parameter values. When empty a starting point is drawn
	// uniformly from Bounds.
	Initial []float64

	// Bounds for each dimension [min, max], used only for the random start
	Bounds [][2]float64

	// Acceleration sets the candidate moves {-a, -1/a, 0, 1/a, a}
	Acceleration float64

	// StepSize is the initial step size for every dimension
	StepSize float64

	// Maximum number of iterations
	MaxIterations int

	// MinError stops the run once the best error drops below it
	MinError float64

	// Random seed for reproducibility
	RandomSeed int64

	// OnIteration, if set, is called after every completed iteration
	OnIteration func(iteration int, bestError float64)

	// Verbose logging
	Verbose bool
}

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation records one completed iteration: the parameters after the sweep
// and the best error seen so far.
type Evaluation struct {
	Iteration int
	Solution  *Solution
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	Evaluations  int
	Converged    bool
}
