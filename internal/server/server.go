package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/andrewcowman/HillClimbing/internal/config"
	apperrors "github.com/andrewcowman/HillClimbing/internal/errors"
	"github.com/andrewcowman/HillClimbing/internal/logging"
	"github.com/andrewcowman/HillClimbing/internal/metrics"
	"github.com/andrewcowman/HillClimbing/internal/optimization"
	"github.com/andrewcowman/HillClimbing/internal/optimization/hillclimb"
	"github.com/andrewcowman/HillClimbing/internal/optimization/objectives"
)

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// JSON-RPC error codes. Codes above -32100 are application errors.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32001
	codeConflict       = -32002
	codeRateLimited    = -32029
)

var (
	errInvalid     = errors.New("invalid request")
	errNotFound    = errors.New("optimization not found")
	errFinished    = errors.New("optimization already finished")
	errRateLimited = errors.New("too many optimization requests")
)

// defaultBounds is the sampling box for restarts when a request gives none.
var defaultBounds = [2]float64{-5, 5}

var jobSeq atomic.Uint64

// OptimizationState represents the state of an optimization job.
// Fields are guarded by Server.optimizationsMu.
type OptimizationState struct {
	ID          string
	Objective   string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	Progress    float64
	Restarts    int
	Iterations  int
	Evaluations int
	Converged   bool
	Err         string

	BestSolution *optimization.Solution
	// Optimizers holds one optimizer per restart; each is safe to query
	// while the job runs.
	Optimizers  []optimization.Optimizer
	CancelFunc  context.CancelFunc
	LastUpdated time.Time
}

func (s *OptimizationState) terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Server exposes hill climbing jobs over REST and JSON-RPC 2.0.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex
	wg              sync.WaitGroup
}

// NewServer creates a server. m may be nil.
func NewServer(cfg *config.Config, logger Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		metrics:       m,
		optimizations: make(map[string]*OptimizationState),
	}
	if cfg.HTTP.RateLimit > 0 {
		burst := cfg.HTTP.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.HTTP.RateLimit), burst)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/objectives", s.handleObjectives)
	})

	// MCP JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// StartRequest describes a new optimization job. Unset numeric settings take
// the server defaults; an explicit zero acceleration or step size is
// rejected.
type StartRequest struct {
	Objective     string      `json:"objective"`
	Dimensions    int         `json:"dimensions,omitempty"`
	Bounds        [][]float64 `json:"bounds,omitempty"`
	Initial       []float64   `json:"initial,omitempty"`
	Acceleration  *float64    `json:"acceleration,omitempty"`
	StepSize      *float64    `json:"step_size,omitempty"`
	MaxIterations int         `json:"max_iterations,omitempty"`
	MinError      *float64    `json:"min_error,omitempty"`
	Restarts      int         `json:"restarts,omitempty"`
	Seed          int64       `json:"seed,omitempty"`
}

// StartResponse is returned when a job is accepted.
type StartResponse struct {
	ID     string `json:"optimization_id"`
	Status string `json:"status"`
}

// SolutionView is the wire form of a solution.
type SolutionView struct {
	Parameters []float64 `json:"parameters"`
	Value      float64   `json:"value"`
}

// HistoryPoint is one completed iteration of the leading restart.
type HistoryPoint struct {
	Iteration int     `json:"iteration"`
	Value     float64 `json:"value"`
}

// StatusResponse reports a job's progress and results.
type StatusResponse struct {
	ID           string         `json:"optimization_id"`
	Objective    string         `json:"objective"`
	Status       string         `json:"status"`
	Progress     float64        `json:"progress"`
	StartTime    string         `json:"start_time"`
	LastUpdate   string         `json:"last_update"`
	EndTime      string         `json:"end_time,omitempty"`
	Restarts     int            `json:"restarts"`
	Iterations   int            `json:"iterations,omitempty"`
	Evaluations  int            `json:"evaluations,omitempty"`
	Converged    bool           `json:"converged"`
	Error        string         `json:"error,omitempty"`
	BestSolution *SolutionView  `json:"best_solution,omitempty"`
	CurrentBest  *SolutionView  `json:"current_best,omitempty"`
	History      []HistoryPoint `json:"history,omitempty"`
}

// ObjectiveInfo describes a registered objective.
type ObjectiveInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Dimensions  int    `json:"dimensions,omitempty"`
	MinDims     int    `json:"min_dimensions,omitempty"`
}

type idRequest struct {
	ID string `json:"optimization_id"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalid, fmt.Sprintf(format, args...))
}

// plan validates req and expands it into one optimizer config per restart.
func (s *Server) plan(req StartRequest) (objectives.Objective, []optimization.OptimizerConfig, error) {
	defaults := s.cfg.Optimization

	if req.Objective == "" {
		return objectives.Objective{}, nil, invalidf("objective is required")
	}
	obj, ok := objectives.Lookup(req.Objective)
	if !ok {
		return obj, nil, invalidf("unknown objective %q", req.Objective)
	}

	dims := req.Dimensions
	for _, n := range []int{len(req.Initial), len(req.Bounds)} {
		if n == 0 {
			continue
		}
		if dims != 0 && dims != n {
			return obj, nil, invalidf("dimension mismatch: %d and %d", dims, n)
		}
		dims = n
	}
	if dims == 0 {
		dims = obj.Dims
	}
	if dims < 1 {
		return obj, nil, invalidf("dimensions are required")
	}
	if dims > defaults.MaxDimensions {
		return obj, nil, invalidf("at most %d dimensions are allowed, got %d", defaults.MaxDimensions, dims)
	}
	if err := obj.CheckDims(dims); err != nil {
		return obj, nil, invalidf("%v", err)
	}

	bounds := make([][2]float64, dims)
	for i := range bounds {
		if len(req.Bounds) == 0 {
			bounds[i] = defaultBounds
			continue
		}
		b := req.Bounds[i]
		if len(b) != 2 {
			return obj, nil, invalidf("invalid bounds format, expected [[min1, max1], [min2, max2], ...]")
		}
		if !finite(b[0]) || !finite(b[1]) || !finite(b[1]-b[0]) {
			return obj, nil, invalidf("bound %d: [%v, %v] is not finite", i, b[0], b[1])
		}
		if b[1] < b[0] {
			return obj, nil, invalidf("bound %d: [%v, %v] is empty", i, b[0], b[1])
		}
		bounds[i] = [2]float64{b[0], b[1]}
	}

	for i, v := range req.Initial {
		if !finite(v) {
			return obj, nil, invalidf("initial value %d is not finite", i)
		}
	}

	accel := defaults.Acceleration
	if req.Acceleration != nil {
		accel = *req.Acceleration
	}
	if err := hillclimb.ValidateAcceleration(accel); err != nil {
		return obj, nil, invalidf("%v", err)
	}
	step := defaults.StepSize
	if req.StepSize != nil {
		step = *req.StepSize
	}
	// A zero step would leave every dimension inert from the start.
	if step == 0 || !finite(step) {
		return obj, nil, invalidf("step_size must be a non-zero finite number, got %v", step)
	}
	minErr := defaults.MinError
	if req.MinError != nil {
		minErr = *req.MinError
	}
	maxIter := defaults.MaxIterations
	if req.MaxIterations < 0 {
		return obj, nil, invalidf("max_iterations must not be negative")
	}
	if req.MaxIterations > 0 {
		maxIter = req.MaxIterations
	}
	if maxIter > defaults.MaxIterationsLimit {
		return obj, nil, invalidf("max_iterations must be at most %d, got %d", defaults.MaxIterationsLimit, maxIter)
	}

	restarts := req.Restarts
	if restarts == 0 {
		restarts = 1
	}
	if restarts < 0 || restarts > defaults.MaxRestarts {
		return obj, nil, invalidf("restarts must be between 1 and %d, got %d", defaults.MaxRestarts, restarts)
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	configs := make([]optimization.OptimizerConfig, restarts)
	for k := range configs {
		configs[k] = optimization.OptimizerConfig{
			Objective:     obj.Func,
			Bounds:        bounds,
			Acceleration:  accel,
			StepSize:      step,
			MaxIterations: maxIter,
			MinError:      minErr,
			RandomSeed:    seed + int64(k),
		}
	}
	// The first restart honours the caller's starting point; the others
	// explore from random points inside the bounds.
	configs[0].Initial = req.Initial

	return obj, configs, nil
}

// startOptimization validates req, registers a job and starts it.
func (s *Server) startOptimization(req StartRequest) (*StartResponse, error) {
	obj, configs, err := s.plan(req)
	if err != nil {
		return nil, err
	}

	// Only valid requests spend a token.
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, errRateLimited
	}

	id := fmt.Sprintf("opt_%d_%d", time.Now().UnixNano(), jobSeq.Add(1))
	jobLogger := s.logger.WithFields(map[string]interface{}{
		"optimization_id": id,
		"objective":       obj.Name,
	})
	zl := logging.NewZapLogger(jobLogger)

	optimizers := make([]optimization.Optimizer, len(configs))
	for k := range optimizers {
		optimizers[k] = hillclimb.NewOptimizer(
			hillclimb.WithLogger(zl.With(zap.Int("restart", k))),
			hillclimb.WithMetrics(s.metrics),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &OptimizationState{
		ID:          id,
		Objective:   obj.Name,
		Status:      StatusPending,
		StartTime:   now,
		Restarts:    len(configs),
		Optimizers:  optimizers,
		CancelFunc:  cancel,
		LastUpdated: now,
	}

	s.optimizationsMu.Lock()
	s.optimizations[id] = state
	s.metrics.JobTransition("", StatusPending)
	s.optimizationsMu.Unlock()

	jobLogger.Info("Optimization started", map[string]interface{}{
		"dimensions":     len(configs[0].Bounds),
		"restarts":       len(configs),
		"max_iterations": configs[0].MaxIterations,
		"acceleration":   configs[0].Acceleration,
	})

	s.wg.Add(1)
	go s.runOptimization(ctx, state, configs, jobLogger)

	return &StartResponse{ID: id, Status: StatusPending}, nil
}

// setStatus moves state to status. The caller holds optimizationsMu.
func (s *Server) setStatus(state *OptimizationState, status string) {
	s.metrics.JobTransition(state.Status, status)
	state.Status = status
	state.LastUpdated = time.Now()
}

// runOptimization runs every restart of a job, at most WorkerCount at once,
// and keeps the best result.
func (s *Server) runOptimization(ctx context.Context, state *OptimizationState, configs []optimization.OptimizerConfig, logger Logger) {
	defer s.wg.Done()
	defer state.CancelFunc()

	s.optimizationsMu.Lock()
	if state.Status != StatusPending {
		s.optimizationsMu.Unlock()
		return
	}
	s.setStatus(state, StatusRunning)
	s.optimizationsMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Optimization.WorkerCount)

	results := make([]*optimization.OptimizationResult, len(configs))
	for k := range configs {
		k := k // per-iteration copy; go 1.21 loop variables are shared across iterations
		cfg := configs[k]
		opt := state.Optimizers[k]
		cfg.OnIteration = func(iteration int, _ float64) {
			s.reportProgress(state, float64(iteration)/float64(cfg.MaxIterations))
		}
		g.Go(func() error {
			res, err := opt.Optimize(gctx, cfg)
			if err != nil {
				return apperrors.Wrapf(err, "restart %d", k).WithComponent("server")
			}
			results[k] = res
			return nil
		})
	}
	err := g.Wait()

	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
	s.metrics.ObserveJobDuration(now.Sub(state.StartTime))

	switch {
	case state.Status == StatusCancelled:
		return
	case errors.Is(err, context.Canceled):
		s.setStatus(state, StatusCancelled)
		return
	case err != nil:
		state.Err = err.Error()
		s.setStatus(state, StatusFailed)
		logger.Error("Optimization failed", map[string]interface{}{"error": err.Error()})
		return
	}

	var best *optimization.OptimizationResult
	for _, res := range results {
		state.Iterations += res.Iterations
		state.Evaluations += res.Evaluations
		state.Converged = state.Converged || res.Converged
		if best == nil || res.BestSolution.Value < best.BestSolution.Value {
			best = res
		}
	}
	state.BestSolution = best.BestSolution
	state.Progress = 1
	s.setStatus(state, StatusCompleted)

	logger.Info("Optimization completed", map[string]interface{}{
		"best_error":  best.BestSolution.Value,
		"iterations":  state.Iterations,
		"evaluations": state.Evaluations,
		"converged":   state.Converged,
	})
}

func (s *Server) reportProgress(state *OptimizationState, progress float64) {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	if progress > state.Progress {
		state.Progress = progress
	}
	state.LastUpdated = time.Now()
}

// optimizationStatus builds the status report for id.
func (s *Server) optimizationStatus(id string) (*StatusResponse, error) {
	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, ok := s.optimizations[id]
	if !ok {
		return nil, errNotFound
	}

	resp := &StatusResponse{
		ID:          state.ID,
		Objective:   state.Objective,
		Status:      state.Status,
		Progress:    state.Progress,
		StartTime:   state.StartTime.Format(time.RFC3339),
		LastUpdate:  state.LastUpdated.Format(time.RFC3339),
		Restarts:    state.Restarts,
		Iterations:  state.Iterations,
		Evaluations: state.Evaluations,
		Converged:   state.Converged,
		Error:       state.Err,
	}
	if state.EndTime != nil {
		resp.EndTime = state.EndTime.Format(time.RFC3339)
	}
	if state.BestSolution != nil {
		resp.BestSolution = &SolutionView{
			Parameters: state.BestSolution.Parameters,
			Value:      state.BestSolution.Value,
		}
	}

	// The leading restart supplies the live view.
	var lead optimization.Optimizer
	var leadBest *optimization.Solution
	for _, opt := range state.Optimizers {
		sol := opt.GetBestSolution()
		if sol != nil && (leadBest == nil || sol.Value < leadBest.Value) {
			lead, leadBest = opt, sol
		}
	}
	if lead != nil {
		resp.CurrentBest = &SolutionView{Parameters: leadBest.Parameters, Value: leadBest.Value}
		for _, eval := range lead.GetHistory() {
			resp.History = append(resp.History, HistoryPoint{
				Iteration: eval.Iteration,
				Value:     eval.Solution.Value,
			})
		}
	}

	return resp, nil
}

// cancelOptimization cancels a pending or running job.
func (s *Server) cancelOptimization(id string) error {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, ok := s.optimizations[id]
	if !ok {
		return errNotFound
	}
	if state.terminal() {
		return fmt.Errorf("%w: status %s", errFinished, state.Status)
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}
	s.setStatus(state, StatusCancelled)
	now := time.Now()
	state.EndTime = &now

	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})
	return nil
}

func listObjectives() []ObjectiveInfo {
	all := objectives.All()
	infos := make([]ObjectiveInfo, len(all))
	for i, o := range all {
		infos[i] = ObjectiveInfo{
			Name:        o.Name,
			Description: o.Description,
			Dimensions:  o.Dims,
			MinDims:     o.MinDims,
		}
	}
	return infos
}

// Close cancels every job and waits for their goroutines to exit.
func (s *Server) Close() error {
	s.optimizationsMu.RLock()
	for _, opt := range s.optimizations {
		if opt.CancelFunc != nil {
			opt.CancelFunc()
		}
	}
	s.optimizationsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Params may be an object or an
// array whose first element is the object.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		var req StartRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.startOptimization(req)
		}
	case "optimization.status":
		var req idRequest
		if err = decodeParams(request.Params, &req); err == nil {
			result, err = s.optimizationStatus(req.ID)
		}
	case "optimization.cancel":
		var req idRequest
		if err = decodeParams(request.Params, &req); err == nil {
			if err = s.cancelOptimization(req.ID); err == nil {
				result = map[string]string{"status": StatusCancelled}
			}
		}
	case "optimization.objectives":
		result = listObjectives()
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), request.ID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return invalidf("params are required")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return invalidf("params: %v", err)
		}
		if len(list) == 0 {
			return invalidf("params are required")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidf("params: %v", err)
	}
	return nil
}

func rpcCode(err error) int {
	switch {
	case errors.Is(err, errInvalid):
		return codeInvalidParams
	case errors.Is(err, errNotFound):
		return codeNotFound
	case errors.Is(err, errFinished):
		return codeConflict
	case errors.Is(err, errRateLimited):
		return codeRateLimited
	}
	return codeServerError
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, errInvalid):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errFinished):
		return http.StatusConflict
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]interface{}{
		"error": err.Error(),
	})
}

// handleOptimize handles POST /api/v1/optimize
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalidf("request body: %v", err))
		return
	}

	result, err := s.startOptimization(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleStatus handles GET /api/v1/status/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.optimizationStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/optimization/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelOptimization(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": StatusCancelled,
	})
}

func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listObjectives())
}
