package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"plumetrack/internal/config"
	"plumetrack/internal/platform"
	"plumetrack/internal/storage"
	trackapi "plumetrack/pkg/plumetrack"
)

const (
	artifactsDir = "artifacts"
	exportsDir   = "exports"
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
	case "reset":
		return runReset(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "checkpoint":
		return runCheckpoint(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "plumetrack.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	lab := platform.NewLab(platform.Config{Store: store})
	if err := lab.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "plumetrack.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	lab := platform.NewLab(platform.Config{Store: store})
	if err := lab.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional parameter file (JSON) loaded over the defaults")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	algorithm := fs.String("algorithm", config.AlgorithmDQN, "training algorithm: dqn|reinforce")
	iterations := fs.Int("iterations", 500, "training iteration count")
	episodes := fs.Int("episodes", 8, "episodes rolled out per iteration")
	workers := fs.Int("workers", 4, "rollout worker count")
	seed := fs.Int64("seed", 1, "rng seed")
	gridWidth := fs.Int("grid-width", 19, "grid width in cells")
	gridHeight := fs.Int("grid-height", 11, "grid height in cells")
	startX := fs.Int("start-x", 15, "agent start x")
	startY := fs.Int("start-y", 5, "agent start y")
	stepBudget := fs.Int("step-budget", 200, "episode step budget")
	evalEvery := fs.Int("eval-every", 50, "evaluation cadence in iterations (0 disables)")
	checkpointEvery := fs.Int("checkpoint-every", 25, "checkpoint cadence in iterations")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "plumetrack.db", "sqlite database path")
	quiet := fs.Bool("quiet", false, "suppress per-iteration metrics logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "algorithm":
			cfg.Algorithm = *algorithm
		case "iterations":
			cfg.Iterations = *iterations
		case "episodes":
			cfg.EpisodesPerIteration = *episodes
		case "workers":
			cfg.Workers = *workers
		case "seed":
			cfg.Seed = *seed
		case "grid-width":
			cfg.GridWidth = *gridWidth
		case "grid-height":
			cfg.GridHeight = *gridHeight
		case "start-x":
			cfg.StartX = *startX
		case "start-y":
			cfg.StartY = *startY
		case "step-budget":
			cfg.StepBudget = *stepBudget
		case "eval-every":
			cfg.EvalEvery = *evalEvery
		case "checkpoint-every":
			cfg.CheckpointEvery = *checkpointEvery
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	var logger *zap.Logger
	if !*quiet {
		l, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer func() {
			_ = l.Sync()
		}()
		logger = l
	}

	client, err := trackapi.New(trackapi.Options{
		StoreKind:    *storeKind,
		DBPath:       *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	started := time.Now()
	summary, err := client.Train(ctx, trackapi.TrainRequest{RunID: *runID, Config: cfg})
	if err != nil {
		return err
	}

	totalEpisodes := int64(summary.Iterations) * int64(cfg.EpisodesPerIteration)
	fmt.Printf("training completed run_id=%s algorithm=%s iterations=%d episodes=%s elapsed=%s\n",
		summary.RunID, cfg.Algorithm, summary.Iterations,
		humanize.Comma(totalEpisodes), time.Since(started).Round(time.Millisecond))
	fmt.Printf("final_mean_return=%.6f final_success_rate=%.4f\n", summary.FinalMeanReturn, summary.FinalSuccessRate)
	if summary.Plateaued {
		fmt.Println("stopped early: return plateaued")
	}
	if summary.Stopped {
		fmt.Println("stopped early: stop command received")
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id whose latest checkpoint to evaluate")
	latest := fs.Bool("latest", false, "evaluate the most recent run")
	policyName := fs.String("policy", "", "heuristic baseline: greedy|infotaxis|most_likely|random_walk")
	configPath := fs.String("config", "", "parameter file for heuristic evaluation")
	episodes := fs.Int("episodes", 20, "evaluation episode count")
	workers := fs.Int("workers", 4, "evaluation worker count")
	seed := fs.Int64("seed", 1, "evaluation rng seed")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "plumetrack.db", "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	client, err := trackapi.New(trackapi.Options{
		StoreKind:    *storeKind,
		DBPath:       *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, err := client.Evaluate(ctx, trackapi.EvaluateRequest{
		RunID:    *runID,
		Latest:   *latest,
		Policy:   *policyName,
		Config:   cfg,
		Episodes: *episodes,
		Workers:  *workers,
		Seed:     *seed,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Printf("evaluation policy=%s episodes=%d success_rate=%.4f mean_steps=%.2f steps_variance=%.2f degenerate_update_rate=%.6f\n",
		report.Policy, report.Episodes, report.SuccessRate, report.MeanSteps, report.StepsVariance, report.DegenerateUpdateRate)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := trackapi.New(trackapi.Options{
		StoreKind:    "memory",
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, trackapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, item := range items {
		created := item.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, item.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Printf("run_id=%s created=%s algorithm=%s grid=%dx%d iterations=%d seed=%d workers=%d final_mean_return=%.4f final_success_rate=%.4f\n",
			item.RunID, created, item.Algorithm, item.GridWidth, item.GridHeight,
			item.Iterations, item.Seed, item.Workers, item.FinalMeanReturn, item.FinalSuccessRate)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "max trailing records to show (0 shows all)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "plumetrack.db", "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit history as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := trackapi.New(trackapi.Options{
		StoreKind:    *storeKind,
		DBPath:       *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, trackapi.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}
	for _, rec := range history {
		fmt.Printf("iteration=%d mean_return=%.4f moving_avg=%.4f success_rate=%.4f mean_steps_to_find=%.2f loss=%.6f epsilon=%.4f\n",
			rec.Iteration, rec.MeanReturn, rec.MovingAvgReturn, rec.SuccessRate, rec.MeanStepsToFind, rec.Loss, rec.Epsilon)
	}
	return nil
}

func runCheckpoint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	iteration := fs.Int("iteration", 0, "checkpoint iteration (0 selects the newest)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "plumetrack.db", "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit checkpoint as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := trackapi.New(trackapi.Options{
		StoreKind:    *storeKind,
		DBPath:       *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	cp, err := client.Checkpoint(ctx, trackapi.CheckpointRequest{
		RunID:     *runID,
		Latest:    *latest,
		Iteration: *iteration,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)
	}
	var paramCount int64
	for _, layer := range cp.Params.Layers {
		paramCount += int64(len(layer.Weights) + len(layer.Biases))
	}
	fmt.Printf("checkpoint run_id=%s iteration=%d algorithm=%s epsilon=%s parameters=%s created=%s\n",
		cp.RunID, cp.Iteration, cp.Algorithm,
		strconv.FormatFloat(cp.Epsilon, 'f', 4, 64),
		humanize.Comma(paramCount), cp.CreatedAtUTC)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", "", "destination directory (defaults to exports/)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := trackapi.New(trackapi.Options{
		StoreKind:    "memory",
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, trackapi.ExportRequest{
		RunID:  *runID,
		Latest: *latest,
		OutDir: *outDir,
	})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: plumetrackctl <init|reset|train|evaluate|runs|history|checkpoint|export> [flags]", msg)
}
