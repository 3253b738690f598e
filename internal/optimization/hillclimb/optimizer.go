package hillclimb

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcowman/HillClimbing/internal/metrics"
	"github.com/andrewcowman/HillClimbing/internal/optimization"
)

const (
	// DefaultMaxIterations caps a run when the config leaves it unset.
	DefaultMaxIterations = 100
	// DefaultStepSize is the initial step size when the config leaves it unset.
	DefaultStepSize = 1.0

	historyPrealloc = 1024
)

// RunConfig controls when Run stops.
type RunConfig struct {
	// MaxIterations is the iteration cap. At least one iteration always runs.
	MaxIterations int
	// MinError stops the run as soon as the best error drops below it.
	MinError float64
	// OnIteration is called after every completed iteration.
	OnIteration func(iteration int, bestError float64)
}

// Result summarizes a finished Run.
type Result struct {
	Iterations  int
	Evaluations int
	BestError   float64
	Converged   bool
}

// Run iterates hc until the iteration cap is reached or the best error drops
// below cfg.MinError. Converged reports whether the error threshold ended the
// run. The context is checked before every iteration.
func Run(ctx context.Context, hc *HillClimb, cfg RunConfig) (Result, error) {
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := hc.Iteration(); err != nil {
			return res, err
		}
		res.Iterations++
		res.Evaluations = hc.Evaluations()
		res.BestError, _ = hc.BestError()

		if cfg.OnIteration != nil {
			cfg.OnIteration(res.Iterations, res.BestError)
		}

		if res.BestError < cfg.MinError {
			res.Converged = true
			return res, nil
		}
		if res.Iterations >= cfg.MaxIterations {
			return res, nil
		}
	}
}

// Optimizer runs hill climbing behind the optimization.Optimizer interface.
// Its best solution and history may be read from other goroutines while
// Optimize is running.
type Optimizer struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu           sync.RWMutex
	bestSolution *optimization.Solution
	history      []optimization.Evaluation
	cancel       context.CancelFunc
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger used for per-iteration progress.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records iterations and scorer calls on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Optimizer) {
		o.metrics = m
	}
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(opts ...Option) *Optimizer {
	o := &Optimizer{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize runs hill climbing on config.Objective.
//
// The starting point is config.Initial when set, otherwise a uniform draw
// from config.Bounds seeded by config.RandomSeed (a zero seed uses the
// clock). A zero MaxIterations or StepSize takes the package default; a zero
// Acceleration is rejected with ErrInvalidAcceleration.
func (o *Optimizer) Optimize(ctx context.Context, config optimization.OptimizerConfig) (*optimization.OptimizationResult, error) {
	if config.Objective == nil {
		return nil, &optimization.Error{Component: component, Op: "optimize", Err: optimization.ErrNilScorer}
	}
	if config.MaxIterations < 1 {
		config.MaxIterations = DefaultMaxIterations
	}
	if config.StepSize == 0 {
		config.StepSize = DefaultStepSize
	}

	x, err := startingPoint(config)
	if err != nil {
		return nil, err
	}

	hc, err := New(x, optimization.ObjectiveScorer(config.Objective), config.Acceleration, config.StepSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.bestSolution = nil
	o.history = make([]optimization.Evaluation, 0, min(config.MaxIterations, historyPrealloc))
	o.mu.Unlock()
	defer cancel()

	logf := o.logger.Debug
	if config.Verbose {
		logf = o.logger.Info
	}

	lastEvals := 0
	res, err := Run(ctx, hc, RunConfig{
		MaxIterations: config.MaxIterations,
		MinError:      config.MinError,
		OnIteration: func(iteration int, bestError float64) {
			evals := hc.Evaluations()
			o.metrics.ObserveIteration(evals - lastEvals)
			lastEvals = evals

			o.record(iteration, x, bestError)

			logf("iteration complete",
				zap.Int("iteration", iteration),
				zap.Float64("best_error", bestError),
				zap.Int("inert_dimensions", hc.Inert()),
			)

			if config.OnIteration != nil {
				config.OnIteration(iteration, bestError)
			}
		},
	})
	if err != nil {
		o.logger.Warn("hill climbing stopped",
			zap.Int("iteration", res.Iterations),
			zap.Error(err),
		)
		return nil, err
	}

	o.metrics.ObserveRun(res.BestError)
	o.logger.Info("hill climbing finished",
		zap.Int("iterations", res.Iterations),
		zap.Int("evaluations", res.Evaluations),
		zap.Float64("best_error", res.BestError),
		zap.Bool("converged", res.Converged),
	)

	return &optimization.OptimizationResult{
		BestSolution: o.GetBestSolution(),
		History:      o.GetHistory(),
		Iterations:   res.Iterations,
		Evaluations:  res.Evaluations,
		Converged:    res.Converged,
	}, nil
}

// record appends one history entry and keeps the best solution current. The
// vector after a sweep scores exactly the sweep's best error, so it is the
// solution for that value.
func (o *Optimizer) record(iteration int, x optimization.Vector, bestError float64) {
	params := append([]float64(nil), x...)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, optimization.Evaluation{
		Iteration: iteration,
		Solution: &optimization.Solution{
			Parameters: params,
			Value:      bestError,
		},
	})
	if o.bestSolution == nil || bestError < o.bestSolution.Value {
		o.bestSolution = &optimization.Solution{
			Parameters: params,
			Value:      bestError,
		}
	}
}

// GetBestSolution returns the best solution found so far, or nil before the
// first iteration completes.
func (o *Optimizer) GetBestSolution() *optimization.Solution {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.bestSolution == nil {
		return nil
	}
	return &optimization.Solution{
		Parameters: append([]float64(nil), o.bestSolution.Parameters...),
		Value:      o.bestSolution.Value,
	}
}

// GetHistory returns one evaluation per completed iteration.
func (o *Optimizer) GetHistory() []optimization.Evaluation {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return append([]optimization.Evaluation(nil), o.history...)
}

// Stop cancels a running Optimize call.
func (o *Optimizer) Stop() {
	o.mu.RLock()
	cancel := o.cancel
	o.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

func startingPoint(config optimization.OptimizerConfig) (optimization.Vector, error) {
	if len(config.Initial) > 0 {
		return append(optimization.Vector(nil), config.Initial...), nil
	}
	if len(config.Bounds) == 0 {
		return nil, &optimization.Error{Component: component, Op: "optimize", Err: optimization.ErrNoStartingPoint}
	}

	seed := config.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	x := make(optimization.Vector, len(config.Bounds))
	for i, b := range config.Bounds {
		min, max := b[0], b[1]
		if max < min {
			return nil, optimization.NewErrorf("bound %d: max %v below min %v", i, max, min).
				WithComponent(component).WithOperation("optimize")
		}
		x[i] = min + rng.Float64()*(max-min)
	}
	return x, nil
}
