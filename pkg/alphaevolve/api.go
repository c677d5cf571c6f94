// Package alphaevolve is the public facade over the program store and the
// evolution loop.
package alphaevolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"alphaevolve/internal/config"
	"alphaevolve/internal/evolve"
	"alphaevolve/internal/model"
	"alphaevolve/internal/store"
)

const (
	defaultDBPath         = "evolve.db"
	defaultPopulationSize = 500
	defaultArchiveSize    = 50
)

// Options configures a Client. Zero values select the build's default
// backend, the default database path, and the default population bounds.
type Options struct {
	BackendKind    string
	DBPath         string
	PopulationSize int
	ArchiveSize    int
	Seed           int64
}

// Client wires a persistence backend to a ProgramStore and exposes the
// store and loop operations.
type Client struct {
	backend store.Backend
	store   *store.ProgramStore
}

func New(opts Options) (*Client, error) {
	kind := opts.BackendKind
	if kind == "" {
		kind = store.DefaultBackendKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	populationSize := opts.PopulationSize
	if populationSize == 0 {
		populationSize = defaultPopulationSize
	}
	archiveSize := opts.ArchiveSize
	if archiveSize == 0 {
		archiveSize = defaultArchiveSize
	}

	backend, err := store.NewBackend(kind, dbPath)
	if err != nil {
		return nil, err
	}
	programStore, err := store.New(backend, store.Config{
		PopulationSize: populationSize,
		ArchiveSize:    archiveSize,
		Seed:           opts.Seed,
	})
	if err != nil {
		return nil, err
	}

	return &Client{backend: backend, store: programStore}, nil
}

// Init prepares the persistence backend (schema creation for SQLite).
func (c *Client) Init(ctx context.Context) error {
	return c.backend.Init(ctx)
}

func (c *Client) Close() error {
	return store.CloseIfSupported(c.backend)
}

// Store exposes the underlying ProgramStore for direct use.
func (c *Client) Store() *store.ProgramStore {
	return c.store
}

// ProgramItem is the display-friendly projection of a stored program.
type ProgramItem struct {
	ID           string
	ParentID     string
	Generation   int
	Experiment   string
	Scored       bool
	Calmar       float64
	Sharpe       float64
	CAGR         float64
	TotalReturn  float64
	CreatedAtUTC string
}

func toItem(p model.Program) ProgramItem {
	item := ProgramItem{
		ID:           p.ID,
		ParentID:     p.ParentID,
		Generation:   p.Generation,
		Experiment:   p.Experiment,
		CreatedAtUTC: p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if metrics, ok := p.Evaluation.Metrics(); ok {
		item.Scored = true
		item.Calmar = metrics.CalmarRatio
		item.Sharpe = metrics.SharpeRatio
		item.CAGR = metrics.CAGR
		item.TotalReturn = metrics.TotalReturn
	}
	return item
}

// Seed inserts a root strategy in pending state and returns its id.
func (c *Client) Seed(ctx context.Context, code, experiment string) (string, error) {
	return c.store.Insert(ctx, code, model.PendingEvaluation(), "", experiment)
}

func (c *Client) Get(ctx context.Context, id string) (ProgramItem, bool, error) {
	program, ok, err := c.store.Get(ctx, id)
	if err != nil || !ok {
		return ProgramItem{}, ok, err
	}
	return toItem(program), true, nil
}

func (c *Client) Top(ctx context.Context, k int, metric, experiment string) ([]ProgramItem, error) {
	if metric == "" {
		metric = store.PrimaryMetric
	}
	programs, err := c.store.TopK(ctx, k, metric, experiment)
	if err != nil {
		return nil, err
	}
	items := make([]ProgramItem, len(programs))
	for i, program := range programs {
		items[i] = toItem(program)
	}
	return items, nil
}

func (c *Client) Sample(ctx context.Context, strategy, experiment string) (ProgramItem, bool, error) {
	if strategy == "" {
		strategy = store.StrategyExploit
	}
	program, ok, err := c.store.Sample(ctx, strategy, experiment)
	if err != nil || !ok {
		return ProgramItem{}, ok, err
	}
	return toItem(program), true, nil
}

func (c *Client) Lineage(ctx context.Context, id string) ([]ProgramItem, error) {
	programs, err := c.store.Lineage(ctx, id)
	if err != nil {
		return nil, err
	}
	items := make([]ProgramItem, len(programs))
	for i, program := range programs {
		items[i] = toItem(program)
	}
	return items, nil
}

// Export writes the live population as an indented JSON array ordered by
// creation time. The output round-trips through Import, preserving ids,
// lineage, evaluation state, and timestamps, so populations can be archived
// or moved between backends.
func (c *Client) Export(ctx context.Context, w io.Writer, experiment string) error {
	programs, err := c.store.List(ctx, experiment)
	if err != nil {
		return err
	}
	sort.Slice(programs, func(i, j int) bool {
		if !programs[i].CreatedAt.Equal(programs[j].CreatedAt) {
			return programs[i].CreatedAt.Before(programs[j].CreatedAt)
		}
		return programs[i].ID < programs[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(programs)
}

// Import restores a population written by Export and returns how many
// programs were written. Pruning runs afterwards if the restored population
// exceeds this client's limit.
func (c *Client) Import(ctx context.Context, r io.Reader) (int, error) {
	var programs []model.Program
	if err := json.NewDecoder(r).Decode(&programs); err != nil {
		return 0, fmt.Errorf("decode programs: %w", err)
	}
	return c.store.Restore(ctx, programs)
}

func (c *Client) Count(ctx context.Context, experiment string) (int, error) {
	return c.store.Count(ctx, experiment)
}

func (c *Client) Prune(ctx context.Context) (int, error) {
	return c.store.Prune(ctx)
}

// EvolveRequest drives Client.Evolve. Either explicit Mutator/Evaluator
// implementations or subprocess command lines must be given.
type EvolveRequest struct {
	SeedCode   string
	Experiment string
	Iterations int
	BlockName  string

	Settings   config.Config
	ConfigPath string

	Mutator       evolve.Mutator
	Evaluator     evolve.Evaluator
	MutateCommand []string
	EvalCommand   []string

	Seed                int64
	TargetFitness       *float64
	MaxDuration         time.Duration
	NoImprovementWindow int

	Logger  *zap.Logger
	OnEvent func(evolve.Event)
}

// Evolve runs the mutate-evaluate-select loop against this client's store.
func (c *Client) Evolve(ctx context.Context, req EvolveRequest) (evolve.Result, error) {
	iterations := req.Iterations
	if iterations <= 0 {
		iterations = 50
	}

	settings := req.Settings
	if settings == (config.Config{}) {
		loaded, err := config.Load(req.ConfigPath)
		if err != nil {
			return evolve.Result{}, err
		}
		settings = loaded
	}

	mutator := req.Mutator
	if mutator == nil {
		if len(req.MutateCommand) == 0 {
			return evolve.Result{}, fmt.Errorf("a mutator or mutate command is required")
		}
		mutator = evolve.ExecMutator{Command: req.MutateCommand}
	}
	evaluator := req.Evaluator
	if evaluator == nil {
		if len(req.EvalCommand) == 0 {
			return evolve.Result{}, fmt.Errorf("an evaluator or eval command is required")
		}
		evaluator = evolve.ExecEvaluator{Command: req.EvalCommand}
	}

	controller, err := evolve.NewController(evolve.Config{
		Store:     c.store,
		Mutator:   mutator,
		Evaluator: evaluator,
		Settings:  settings,
		Logger:    req.Logger,
		BlockName: req.BlockName,
		Seed:      req.Seed,
		OnEvent:   req.OnEvent,
	})
	if err != nil {
		return evolve.Result{}, err
	}

	return controller.Run(ctx, req.SeedCode, req.Experiment, iterations, evolve.StopCondition{
		TargetFitness:       req.TargetFitness,
		MaxDuration:         req.MaxDuration,
		NoImprovementWindow: req.NoImprovementWindow,
	})
}
