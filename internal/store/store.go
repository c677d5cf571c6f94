package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"alphaevolve/internal/model"
)

// PrimaryMetric ranks programs for pruning, archives, and elite sampling.
const PrimaryMetric = "calmar"

// Config bounds the population managed by a ProgramStore.
type Config struct {
	// PopulationSize is the maximum live population; exceeding it on insert
	// triggers pruning.
	PopulationSize int
	// ArchiveSize is the number of top performers protected from pruning.
	ArchiveSize int
	// Seed fixes the sampling randomness; 0 seeds from the clock.
	Seed int64
}

// ProgramStore is the durable repository of the evolving population. It
// owns population-size enforcement, pruning, and parent sampling; all
// mutations pass through its write lock, so insert-then-prune is a single
// atomic step.
type ProgramStore struct {
	backend        Backend
	populationSize int
	archiveSize    int

	mu sync.RWMutex

	rngMu sync.Mutex
	rng   *rand.Rand

	nowFn       func() time.Time
	newID       func() string
	lastCreated time.Time
}

// New validates the configuration and wraps the backend in a ProgramStore.
// The backend must already be initialized.
func New(backend Backend, cfg Config) (*ProgramStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidArgument)
	}
	if cfg.PopulationSize < 1 {
		return nil, fmt.Errorf("%w: population size must be >= 1, got %d", ErrInvalidArgument, cfg.PopulationSize)
	}
	if cfg.ArchiveSize < 1 {
		return nil, fmt.Errorf("%w: archive size must be >= 1, got %d", ErrInvalidArgument, cfg.ArchiveSize)
	}
	if cfg.ArchiveSize >= cfg.PopulationSize {
		return nil, fmt.Errorf("%w: archive size %d must be < population size %d", ErrInvalidArgument, cfg.ArchiveSize, cfg.PopulationSize)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &ProgramStore{
		backend:        backend,
		populationSize: cfg.PopulationSize,
		archiveSize:    cfg.ArchiveSize,
		rng:            rand.New(rand.NewSource(seed)),
		nowFn:          time.Now,
		newID:          uuid.NewString,
	}, nil
}

// Insert records a new program and returns its generated id. Generation is
// derived from the resolved parent, never accepted from the caller. When the
// insert pushes the live population over the limit, pruning runs before
// Insert returns, under the same lock as the insert itself.
func (s *ProgramStore) Insert(ctx context.Context, code string, eval model.Evaluation, parentID, experiment string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("%w: code must not be empty", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	generation := 0
	if parentID != "" {
		parent, ok, err := s.backend.Get(ctx, parentID)
		if err != nil {
			return "", storageErr("get parent", err)
		}
		if !ok {
			return "", fmt.Errorf("%w: parent %s", ErrNotFound, parentID)
		}
		generation = parent.Generation + 1
	}

	program := model.Program{
		ID:         s.newID(),
		Code:       code,
		ParentID:   parentID,
		Generation: generation,
		Experiment: experiment,
		Evaluation: eval,
		CreatedAt:  s.nextTimestampLocked(),
	}
	if err := s.backend.Put(ctx, program); err != nil {
		return "", storageErr("put program", err)
	}
	if _, err := s.pruneLocked(ctx); err != nil {
		return "", err
	}
	return program.ID, nil
}

// UpdateMetrics replaces a program's metrics as a whole value, moving it
// from pending to scored. Repeated calls with the same metrics are
// idempotent.
func (s *ProgramStore) UpdateMetrics(ctx context.Context, id string, metrics model.FitnessMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	program, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return storageErr("get program", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	program.Evaluation = model.ScoredEvaluation(metrics)
	if err := s.backend.Put(ctx, program); err != nil {
		return storageErr("put program", err)
	}
	return nil
}

// Get looks up a program by id. An unknown or pruned id is an absent result,
// not an error.
func (s *ProgramStore) Get(ctx context.Context, id string) (model.Program, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	program, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return model.Program{}, false, storageErr("get program", err)
	}
	return program, ok, nil
}

// TopK returns up to k scored programs ranked descending by the named
// metric, ties broken by earlier insertion. Pending programs are excluded
// entirely. An empty experiment spans all experiments.
func (s *ProgramStore) TopK(ctx context.Context, k int, metric, experiment string) ([]model.Program, error) {
	metricFn, err := resolveMetric(metric)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	programs, err := s.list(ctx, experiment)
	if err != nil {
		return nil, err
	}

	ranked := rankPrograms(programs, metricFn)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	result := make([]model.Program, len(ranked))
	for i, entry := range ranked {
		result[i] = entry.program
	}
	return result, nil
}

// Lineage walks the parent chain from the given program back to its root.
// The chain stops silently at a pruned (dangling) parent; only an unknown
// starting id is an error.
func (s *ProgramStore) Lineage(ctx context.Context, id string) ([]model.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get program", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	chain := []model.Program{start}
	seen := map[string]struct{}{start.ID: {}}
	current := start
	for current.ParentID != "" {
		parent, ok, err := s.backend.Get(ctx, current.ParentID)
		if err != nil {
			return nil, storageErr("get parent", err)
		}
		if !ok {
			break
		}
		// A corrupted backend could hold a cycle; stop instead of spinning.
		if _, dup := seen[parent.ID]; dup {
			break
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// List returns every live program, filtered by experiment when one is
// given. Ordering is not defined; callers needing a stable order sort the
// result.
func (s *ProgramStore) List(ctx context.Context, experiment string) ([]model.Program, error) {
	return s.list(ctx, experiment)
}

// Restore puts previously exported programs back, keeping their ids,
// lineage, and timestamps, then prunes if the restored population exceeds
// the limit. Returns how many programs were written.
func (s *ProgramStore) Restore(ctx context.Context, programs []model.Program) (int, error) {
	for _, program := range programs {
		if program.ID == "" || strings.TrimSpace(program.Code) == "" {
			return 0, fmt.Errorf("%w: restored programs need an id and code", ErrInvalidArgument)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, program := range programs {
		if err := s.backend.Put(ctx, program); err != nil {
			return written, storageErr("put program", err)
		}
		written++
		if program.CreatedAt.After(s.lastCreated) {
			s.lastCreated = program.CreatedAt
		}
	}
	if _, err := s.pruneLocked(ctx); err != nil {
		return written, err
	}
	return written, nil
}

// Count reports the live population size, filtered by experiment when one
// is given.
func (s *ProgramStore) Count(ctx context.Context, experiment string) (int, error) {
	programs, err := s.list(ctx, experiment)
	if err != nil {
		return 0, err
	}
	return len(programs), nil
}

// Prune deletes the lowest-ranked programs beyond the population limit and
// returns how many were removed. The top ArchiveSize programs by the
// primary metric are never deleted, and pending programs rank below every
// scored one, so they go first.
func (s *ProgramStore) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pruneLocked(ctx)
}

func (s *ProgramStore) pruneLocked(ctx context.Context) (int, error) {
	programs, err := s.backend.List(ctx)
	if err != nil {
		return 0, storageErr("list programs", err)
	}
	if len(programs) <= s.populationSize {
		return 0, nil
	}

	primary, _ := resolveMetric(PrimaryMetric)
	ranked := rankProgramsWithPending(programs, primary)

	excess := len(programs) - s.populationSize
	candidates := ranked[s.archiveSize:]
	if excess > len(candidates) {
		excess = len(candidates)
	}

	victims := candidates[len(candidates)-excess:]
	ids := make([]string, len(victims))
	for i, victim := range victims {
		ids[i] = victim.program.ID
	}
	if err := s.backend.Delete(ctx, ids); err != nil {
		return 0, storageErr("delete programs", err)
	}
	return len(ids), nil
}

func (s *ProgramStore) list(ctx context.Context, experiment string) ([]model.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	programs, err := s.backend.List(ctx)
	if err != nil {
		return nil, storageErr("list programs", err)
	}
	if experiment == "" {
		return programs, nil
	}
	filtered := programs[:0]
	for _, program := range programs {
		if program.Experiment == experiment {
			filtered = append(filtered, program)
		}
	}
	return filtered, nil
}

// nextTimestampLocked hands out strictly increasing timestamps so insertion
// order is a total order even when the clock stalls.
func (s *ProgramStore) nextTimestampLocked() time.Time {
	now := s.nowFn()
	if !now.After(s.lastCreated) {
		now = s.lastCreated.Add(time.Nanosecond)
	}
	s.lastCreated = now
	return now
}

func (s *ProgramStore) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func (s *ProgramStore) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

type rankedProgram struct {
	program model.Program
	fitness float64
	scored  bool
}

// rankPrograms orders scored programs descending by metric value, ties by
// earlier creation. Programs without the metric are dropped.
func rankPrograms(programs []model.Program, metricFn metricFunc) []rankedProgram {
	ranked := make([]rankedProgram, 0, len(programs))
	for _, program := range programs {
		metrics, ok := program.Evaluation.Metrics()
		if !ok {
			continue
		}
		value, ok := metricFn(metrics)
		if !ok {
			continue
		}
		ranked = append(ranked, rankedProgram{program: program, fitness: value, scored: true})
	}
	sortRanked(ranked)
	return ranked
}

// rankProgramsWithPending keeps pending programs in the ordering, below all
// scored ones, so pruning removes them before any scored entry.
func rankProgramsWithPending(programs []model.Program, metricFn metricFunc) []rankedProgram {
	ranked := make([]rankedProgram, 0, len(programs))
	for _, program := range programs {
		entry := rankedProgram{program: program}
		if metrics, ok := program.Evaluation.Metrics(); ok {
			if value, ok := metricFn(metrics); ok {
				entry.fitness = value
				entry.scored = true
			}
		}
		ranked = append(ranked, entry)
	}
	sortRanked(ranked)
	return ranked
}

func sortRanked(ranked []rankedProgram) {
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.scored != b.scored {
			return a.scored
		}
		if a.scored && a.fitness != b.fitness {
			return a.fitness > b.fitness
		}
		if !a.program.CreatedAt.Equal(b.program.CreatedAt) {
			return a.program.CreatedAt.Before(b.program.CreatedAt)
		}
		return a.program.ID < b.program.ID
	})
}

type metricFunc func(model.FitnessMetrics) (float64, bool)

func resolveMetric(name string) (metricFunc, error) {
	switch name {
	case "calmar", "calmar_ratio":
		return func(m model.FitnessMetrics) (float64, bool) { return m.CalmarRatio, true }, nil
	case "sharpe", "sharpe_ratio":
		return func(m model.FitnessMetrics) (float64, bool) { return m.SharpeRatio, true }, nil
	case "cagr":
		return func(m model.FitnessMetrics) (float64, bool) { return m.CAGR, true }, nil
	case "max_dd", "max_drawdown":
		return func(m model.FitnessMetrics) (float64, bool) { return m.MaxDrawdown, true }, nil
	case "total_return":
		return func(m model.FitnessMetrics) (float64, bool) { return m.TotalReturn, true }, nil
	case "psr":
		return func(m model.FitnessMetrics) (float64, bool) {
			if m.PSR == nil {
				return 0, false
			}
			return *m.PSR, true
		}, nil
	case "net_sharpe":
		return func(m model.FitnessMetrics) (float64, bool) {
			if m.NetSharpe == nil {
				return 0, false
			}
			return *m.NetSharpe, true
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown metric: %q", ErrInvalidArgument, name)
	}
}
