package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"alphaevolve/internal/store"
	evoapi "alphaevolve/pkg/alphaevolve"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	case "get":
		return runGet(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "sample":
		return runSample(ctx, args[1:])
	case "lineage":
		return runLineage(ctx, args[1:])
	case "count":
		return runCount(ctx, args[1:])
	case "prune":
		return runPrune(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "run":
		return runEvolve(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return errors.New(msg + "\nusage: evolvectl <init|seed|get|top|sample|lineage|count|prune|export|import|run> [flags]")
}

type storeFlags struct {
	backend    *string
	dbPath     *string
	population *int
	archive    *int
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		backend:    fs.String("store", store.DefaultBackendKind(), "store backend: memory|sqlite"),
		dbPath:     fs.String("db-path", "evolve.db", "sqlite database path"),
		population: fs.Int("population", 500, "maximum live population"),
		archive:    fs.Int("archive", 50, "top performers protected from pruning"),
	}
}

func openClient(ctx context.Context, flags storeFlags) (*evoapi.Client, error) {
	client, err := evoapi.New(evoapi.Options{
		BackendKind:    *flags.backend,
		DBPath:         *flags.dbPath,
		PopulationSize: *flags.population,
		ArchiveSize:    *flags.archive,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("store initialized (backend=%s)\n", *flags.backend)
	return nil
}

func runSeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	codePath := fs.String("code", "", "path to seed strategy code")
	experiment := fs.String("experiment", "", "experiment name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *codePath == "" {
		return errors.New("-code is required")
	}

	code, err := os.ReadFile(*codePath)
	if err != nil {
		return err
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := client.Seed(ctx, string(code), *experiment)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	id := fs.String("id", "", "program id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	item, ok, err := client.Get(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not found")
		return nil
	}
	printItem(item)
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	k := fs.Int("k", 10, "number of programs")
	metric := fs.String("metric", "calmar", "ranking metric: calmar|sharpe|cagr|max_dd|total_return|psr|net_sharpe")
	experiment := fs.String("experiment", "", "experiment filter (empty for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.Top(ctx, *k, *metric, *experiment)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no scored programs")
		return nil
	}
	for i, item := range items {
		fmt.Printf("%2d. %s gen=%d calmar=%.4f sharpe=%.4f experiment=%s\n",
			i+1, item.ID, item.Generation, item.Calmar, item.Sharpe, item.Experiment)
	}
	return nil
}

func runSample(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sample", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	strategy := fs.String("strategy", store.StrategyExploit, "sampling strategy: elite|exploit|explore")
	experiment := fs.String("experiment", "", "experiment filter (empty for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	item, ok, err := client.Sample(ctx, *strategy, *experiment)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("empty population")
		return nil
	}
	printItem(item)
	return nil
}

func runLineage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lineage", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	id := fs.String("id", "", "program id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.Lineage(ctx, *id)
	if err != nil {
		return err
	}
	for _, item := range items {
		marker := " "
		if item.ParentID == "" {
			marker = "*"
		}
		fmt.Printf("%s gen=%-3d %s\n", marker, item.Generation, item.ID)
	}
	return nil
}

func runCount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("count", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	experiment := fs.String("experiment", "", "experiment filter (empty for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	count, err := client.Count(ctx, *experiment)
	if err != nil {
		return err
	}
	fmt.Println(count)
	return nil
}

func runPrune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	deleted, err := client.Prune(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d programs\n", deleted)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	experiment := fs.String("experiment", "", "experiment filter (empty for all)")
	out := fs.String("out", "", "output path (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return client.Export(ctx, w, *experiment)
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	in := fs.String("in", "", "path to an export file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("-in is required")
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	imported, err := client.Import(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d programs\n", imported)
	return nil
}

func runEvolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	flags := addStoreFlags(fs)
	seedPath := fs.String("seed-code", "", "path to seed strategy code (required for a fresh experiment)")
	experiment := fs.String("experiment", "", "experiment name (required)")
	iterations := fs.Int("iterations", 50, "iteration budget")
	configPath := fs.String("config", "", "path to evolution config YAML")
	blockName := fs.String("block", "", "evolve block to target (default decision_logic)")
	mutateCmd := fs.String("mutate-cmd", "", "mutation engine command line")
	evalCmd := fs.String("eval-cmd", "", "evaluation engine command line")
	seed := fs.Int64("seed", 0, "selection rng seed (0 for time-based)")
	maxDuration := fs.Duration("max-duration", 0, "stop after this wall time (0 to disable)")
	noImprovement := fs.Int("no-improvement", 0, "stop after N iterations without improvement (0 to disable)")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *experiment == "" {
		return errors.New("-experiment is required")
	}
	if *mutateCmd == "" || *evalCmd == "" {
		return errors.New("-mutate-cmd and -eval-cmd are required")
	}

	seedCode := ""
	if *seedPath != "" {
		data, err := os.ReadFile(*seedPath)
		if err != nil {
			return err
		}
		seedCode = string(data)
	}

	logConfig := zap.NewProductionConfig()
	if *verbose {
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := logConfig.Build()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	client, err := openClient(ctx, flags)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Evolve(ctx, evoapi.EvolveRequest{
		SeedCode:            seedCode,
		Experiment:          *experiment,
		Iterations:          *iterations,
		BlockName:           *blockName,
		ConfigPath:          *configPath,
		MutateCommand:       strings.Fields(*mutateCmd),
		EvalCommand:         strings.Fields(*evalCmd),
		Seed:                *seed,
		MaxDuration:         *maxDuration,
		NoImprovementWindow: *noImprovement,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("experiment:  %s\n", result.Experiment)
	fmt.Printf("iterations:  %d\n", result.Iterations)
	fmt.Printf("best:        %s (calmar=%.4f)\n", result.BestProgramID, result.BestFitness)
	fmt.Printf("mutations:   %d/%d succeeded\n", result.MutationsSucceeded, result.MutationsAttempted)
	fmt.Printf("evaluations: %d completed, %d failed\n", result.EvaluationsCompleted, result.EvaluationsFailed)
	fmt.Printf("elapsed:     %s\n", result.Elapsed.Round(time.Millisecond))
	fmt.Printf("stop reason: %s\n", result.StopReason)
	return nil
}

func printItem(item evoapi.ProgramItem) {
	fmt.Printf("id:          %s\n", item.ID)
	if item.ParentID != "" {
		fmt.Printf("parent:      %s\n", item.ParentID)
	}
	fmt.Printf("generation:  %d\n", item.Generation)
	if item.Experiment != "" {
		fmt.Printf("experiment:  %s\n", item.Experiment)
	}
	if item.Scored {
		fmt.Printf("calmar:      %.4f\n", item.Calmar)
		fmt.Printf("sharpe:      %.4f\n", item.Sharpe)
		fmt.Printf("cagr:        %.4f\n", item.CAGR)
	} else {
		fmt.Println("status:      pending evaluation")
	}
	fmt.Printf("created:     %s\n", item.CreatedAtUTC)
}
