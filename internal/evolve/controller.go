// Package evolve drives the mutate-evaluate-select loop over a program
// store: sample a parent, mutate its code, insert the child pending,
// evaluate it, record the metrics. The mutation and evaluation engines are
// external collaborators behind the Mutator and Evaluator interfaces.
package evolve

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"alphaevolve/internal/config"
	"alphaevolve/internal/model"
	"alphaevolve/internal/patch"
	"alphaevolve/internal/store"
)

// Mutator produces a code mutation for a parent strategy.
type Mutator interface {
	Mutate(ctx context.Context, req MutationRequest) (MutationResult, error)
}

// Evaluator scores strategy code, typically by backtest.
type Evaluator interface {
	Evaluate(ctx context.Context, code string) (model.FitnessMetrics, error)
}

type MutationRequest struct {
	ParentCode       string
	ParentEvaluation model.Evaluation
	BlockName        string
	Guidance         string
}

// MutationResult carries the proposed change as a patch diff; the
// controller applies it to the parent code.
type MutationResult struct {
	Diff patch.Diff
}

// StopCondition bounds a run beyond its iteration budget. Zero-valued
// fields are disabled; TargetFitness is a pointer so a target of exactly
// zero stays expressible.
type StopCondition struct {
	TargetFitness       *float64
	MaxDuration         time.Duration
	NoImprovementWindow int
}

// EventType identifies a progress event.
type EventType string

const (
	EventIterationStart    EventType = "iteration_start"
	EventParentSelected    EventType = "parent_selected"
	EventMutationComplete  EventType = "mutation_complete"
	EventEvaluationDone    EventType = "evaluation_complete"
	EventIterationComplete EventType = "iteration_complete"
	EventRunComplete       EventType = "run_complete"
)

// Event is a progress notification emitted during a run.
type Event struct {
	Type      EventType
	Iteration int
	ProgramID string
	Fitness   float64
	Err       error
}

// Config assembles a Controller. Store, Mutator, and Evaluator are
// required; Settings falls back to config.Default().
type Config struct {
	Store     *store.ProgramStore
	Mutator   Mutator
	Evaluator Evaluator
	Settings  config.Config
	Logger    *zap.Logger
	BlockName string
	Seed      int64
	OnEvent   func(Event)
}

// Result summarizes a finished run.
type Result struct {
	Experiment           string
	Iterations           int
	BestProgramID        string
	BestFitness          float64
	MutationsAttempted   int
	MutationsSucceeded   int
	EvaluationsCompleted int
	EvaluationsFailed    int
	Elapsed              time.Duration
	StopReason           string
}

type Controller struct {
	cfg Config
	rng *rand.Rand
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Mutator == nil {
		return nil, fmt.Errorf("mutator is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Settings == (config.Config{}) {
		cfg.Settings = config.Default()
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BlockName == "" {
		cfg.BlockName = "decision_logic"
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Controller{cfg: cfg, rng: rand.New(rand.NewSource(seed))}, nil
}

// Run executes the evolution loop for the given experiment. When the
// experiment has no population yet, seedCode is inserted and evaluated as
// generation zero; otherwise seedCode may be empty and the run continues
// from the existing population. Each iteration produces up to MaxConcurrent
// children and evaluates them in parallel. Individual mutation or
// evaluation failures are logged and skipped, never fatal for the run.
func (c *Controller) Run(ctx context.Context, seedCode, experiment string, iterations int, stop StopCondition) (Result, error) {
	if experiment == "" {
		return Result{}, fmt.Errorf("experiment is required")
	}
	if iterations <= 0 {
		return Result{}, fmt.Errorf("iterations must be > 0")
	}

	start := time.Now()
	result := Result{Experiment: experiment, BestFitness: math.Inf(-1)}

	if err := c.seedIfEmpty(ctx, seedCode, experiment, &result); err != nil {
		return Result{}, err
	}

	c.cfg.Logger.Info("starting evolution",
		zap.String("experiment", experiment),
		zap.Int("iterations", iterations),
		zap.Int("batch", c.cfg.Settings.MaxConcurrent),
	)

	noImprovement := 0
	stopReason := ""

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations = i + 1
		c.emit(Event{Type: EventIterationStart, Iteration: i})

		improved := c.runIteration(ctx, i, experiment, &result)
		if improved {
			noImprovement = 0
		} else {
			noImprovement++
		}

		population, err := c.cfg.Store.Count(ctx, experiment)
		if err != nil {
			return result, err
		}
		c.cfg.Logger.Debug("iteration complete",
			zap.Int("iteration", i),
			zap.Float64("best_fitness", result.BestFitness),
			zap.Int("population", population),
		)
		c.emit(Event{Type: EventIterationComplete, Iteration: i, Fitness: result.BestFitness})

		if reason := c.shouldStop(stop, result.BestFitness, start, noImprovement); reason != "" {
			stopReason = reason
			break
		}
	}

	if stopReason == "" {
		stopReason = "completed all iterations"
	}
	result.StopReason = stopReason
	result.Elapsed = time.Since(start)

	c.cfg.Logger.Info("evolution complete",
		zap.String("experiment", experiment),
		zap.String("stop_reason", stopReason),
		zap.Float64("best_fitness", result.BestFitness),
		zap.String("best_program", result.BestProgramID),
	)
	c.emit(Event{Type: EventRunComplete, Iteration: result.Iterations - 1, Fitness: result.BestFitness})
	return result, nil
}

func (c *Controller) seedIfEmpty(ctx context.Context, seedCode, experiment string, result *Result) error {
	count, err := c.cfg.Store.Count(ctx, experiment)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if seedCode == "" {
		return fmt.Errorf("experiment %q has no population and no seed code was given", experiment)
	}

	seedID, err := c.cfg.Store.Insert(ctx, seedCode, model.PendingEvaluation(), "", experiment)
	if err != nil {
		return fmt.Errorf("insert seed: %w", err)
	}
	c.cfg.Logger.Info("seeded experiment", zap.String("experiment", experiment), zap.String("id", seedID))

	metrics, err := c.cfg.Evaluator.Evaluate(ctx, seedCode)
	if err != nil {
		// The seed stays pending; explore sampling can still reach it.
		result.EvaluationsFailed++
		c.cfg.Logger.Warn("seed evaluation failed", zap.String("id", seedID), zap.Error(err))
		return nil
	}
	if err := c.cfg.Store.UpdateMetrics(ctx, seedID, metrics); err != nil {
		return err
	}
	result.EvaluationsCompleted++
	c.trackBest(result, seedID, metrics)
	return nil
}

// runIteration produces one batch of children and reports whether the best
// fitness improved.
func (c *Controller) runIteration(ctx context.Context, iteration int, experiment string, result *Result) bool {
	type candidate struct {
		id   string
		code string
	}

	batch := c.cfg.Settings.MaxConcurrent
	candidates := make([]candidate, 0, batch)
	for j := 0; j < batch; j++ {
		parent, ok := c.selectParent(ctx, experiment)
		if !ok {
			continue
		}
		c.emit(Event{Type: EventParentSelected, Iteration: iteration, ProgramID: parent.ID})

		result.MutationsAttempted++
		mutation, err := c.cfg.Mutator.Mutate(ctx, MutationRequest{
			ParentCode:       parent.Code,
			ParentEvaluation: parent.Evaluation,
			BlockName:        c.cfg.BlockName,
		})
		if err != nil {
			c.cfg.Logger.Warn("mutation failed", zap.String("parent", parent.ID), zap.Error(err))
			c.emit(Event{Type: EventMutationComplete, Iteration: iteration, Err: err})
			continue
		}
		code, err := patch.Apply(parent.Code, mutation.Diff)
		if err != nil {
			c.cfg.Logger.Warn("patch failed", zap.String("parent", parent.ID), zap.Error(err))
			c.emit(Event{Type: EventMutationComplete, Iteration: iteration, Err: err})
			continue
		}
		result.MutationsSucceeded++
		c.emit(Event{Type: EventMutationComplete, Iteration: iteration, ProgramID: parent.ID})

		childID, err := c.cfg.Store.Insert(ctx, code, model.PendingEvaluation(), parent.ID, experiment)
		if err != nil {
			c.cfg.Logger.Warn("insert child failed", zap.String("parent", parent.ID), zap.Error(err))
			continue
		}
		candidates = append(candidates, candidate{id: childID, code: code})
	}

	type outcome struct {
		id      string
		metrics model.FitnessMetrics
		err     error
	}

	jobs := make(chan candidate)
	outcomes := make(chan outcome, len(candidates))
	workers := batch
	if workers > len(candidates) {
		workers = len(candidates)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				metrics, err := c.cfg.Evaluator.Evaluate(ctx, job.code)
				outcomes <- outcome{id: job.id, metrics: metrics, err: err}
			}
		}()
	}
	for _, cand := range candidates {
		jobs <- cand
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	improved := false
	for out := range outcomes {
		if out.err != nil {
			result.EvaluationsFailed++
			c.cfg.Logger.Warn("evaluation failed", zap.String("id", out.id), zap.Error(out.err))
			c.emit(Event{Type: EventEvaluationDone, Iteration: iteration, ProgramID: out.id, Err: out.err})
			continue
		}
		if err := c.cfg.Store.UpdateMetrics(ctx, out.id, out.metrics); err != nil {
			// The child may have been pruned between insert and evaluation.
			c.cfg.Logger.Debug("metrics update skipped", zap.String("id", out.id), zap.Error(err))
			continue
		}
		result.EvaluationsCompleted++
		c.emit(Event{Type: EventEvaluationDone, Iteration: iteration, ProgramID: out.id, Fitness: out.metrics.CalmarRatio})
		if c.trackBest(result, out.id, out.metrics) {
			improved = true
		}
	}
	return improved
}

// selectParent picks a sampling mode by the configured ratios and falls
// back to explore when the preferred mode finds no scored candidates.
func (c *Controller) selectParent(ctx context.Context, experiment string) (model.Program, bool) {
	mode := c.selectMode()
	parent, ok, err := c.cfg.Store.Sample(ctx, mode, experiment)
	if err != nil {
		c.cfg.Logger.Warn("sampling failed", zap.String("mode", mode), zap.Error(err))
		return model.Program{}, false
	}
	if !ok && mode != store.StrategyExplore {
		parent, ok, err = c.cfg.Store.Sample(ctx, store.StrategyExplore, experiment)
		if err != nil || !ok {
			return model.Program{}, false
		}
	}
	return parent, ok
}

func (c *Controller) selectMode() string {
	r := c.rng.Float64()
	switch {
	case r < c.cfg.Settings.EliteRatio:
		return store.StrategyElite
	case r < 1.0-c.cfg.Settings.ExplorationRatio:
		return store.StrategyExploit
	default:
		return store.StrategyExplore
	}
}

func (c *Controller) trackBest(result *Result, id string, metrics model.FitnessMetrics) bool {
	if metrics.CalmarRatio <= result.BestFitness {
		return false
	}
	result.BestFitness = metrics.CalmarRatio
	result.BestProgramID = id
	return true
}

func (c *Controller) shouldStop(stop StopCondition, best float64, start time.Time, noImprovement int) string {
	if stop.TargetFitness != nil && best >= *stop.TargetFitness {
		return fmt.Sprintf("target fitness %.4f reached", *stop.TargetFitness)
	}
	if stop.MaxDuration > 0 && time.Since(start) >= stop.MaxDuration {
		return fmt.Sprintf("time budget %s exhausted", stop.MaxDuration)
	}
	if stop.NoImprovementWindow > 0 && noImprovement >= stop.NoImprovementWindow {
		return fmt.Sprintf("no improvement in %d iterations", stop.NoImprovementWindow)
	}
	return ""
}

func (c *Controller) emit(event Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(event)
	}
}
