package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"audiogene/internal/storage"
	"audiogene/pkg/audiogene"
)

const defaultDBPath = "audiogene.db"

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
	case "perform":
		return runPerform(ctx, args[1:])
	case "validate":
		return runValidate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runPerform(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("perform", flag.ContinueOnError)
	configPath := fs.String("config", "", "performance config (toml)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	logPath := fs.String("log", "", "log file (default stderr, or "+defaultKeyboardLog+" with keyboard input)")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	logFormat := fs.String("log-format", "text", "log format: text|json")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address (overrides config)")
	seed := fs.Int64("seed", 0, "random seed (overrides config; 0 keeps it)")
	dryRun := fs.Duration("dry-run-interval", 0, "play without a sound engine, asking for a conductor on this interval")
	generations := fs.Int("generations", 0, "stop after this many generations (0 runs until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("perform requires --config")
	}
	if *generations < 0 {
		return errors.New("generations must be >= 0")
	}

	settings, err := audiogene.Validate(*configPath)
	if err != nil {
		return err
	}
	path := performLogPath(*logPath, settings.Input)
	if path != *logPath {
		fmt.Fprintf(os.Stderr, "keyboard input owns the terminal, logging to %s\n", path)
	}
	logger, closeLog, err := newLogger(path, *logLevel, *logFormat)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeLog()
	}()

	client, err := audiogene.New(audiogene.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := client.Perform(ctx, audiogene.PerformRequest{
		ConfigPath:     *configPath,
		Seed:           *seed,
		MetricsAddr:    *metricsAddr,
		DryRunInterval: *dryRun,
		Generations:    *generations,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run_id=%s generations=%d\n", summary.RunID, summary.Generations)
	for _, gene := range summary.Fittest {
		fmt.Printf("  %s=%g\n", gene.Name, gene.Current)
	}
	return nil
}

func runValidate(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "", "performance config (toml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("validate requires --config")
	}

	summary, err := audiogene.Validate(*configPath)
	if err != nil {
		return err
	}
	fmt.Printf("config ok: population=%d keep_fittest=%d input=%s\n", summary.PopulationSize, summary.KeepFittest, summary.Input)
	for _, gene := range summary.Seed {
		fmt.Printf("  %s current=%g min=%g max=%g round=%t activates=%s\n",
			gene.Name, gene.Current, gene.Min, gene.Max, gene.Round, gene.Activates)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := audiogene.New(audiogene.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, audiogene.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		type runsItem struct {
			RunID          string  `json:"run_id"`
			StartedAtUTC   string  `json:"started_at_utc"`
			PopulationSize int     `json:"population_size"`
			KeepFittest    int     `json:"keep_fittest"`
			Input          string  `json:"input"`
			Generations    int     `json:"generations"`
			BestFitness    float64 `json:"best_fitness"`
		}
		items := make([]runsItem, 0, len(runs))
		for _, r := range runs {
			items = append(items, runsItem{
				RunID:          r.RunID,
				StartedAtUTC:   r.StartedAt.UTC().Format(time.RFC3339),
				PopulationSize: r.PopulationSize,
				KeepFittest:    r.TopN,
				Input:          r.Input,
				Generations:    r.Generations,
				BestFitness:    r.BestFitness,
			})
		}
		return printJSON(items)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s started=%s (%s) population=%d keep=%d input=%s generations=%s best=%.6f\n",
			r.RunID,
			r.StartedAt.UTC().Format(time.RFC3339),
			humanize.Time(r.StartedAt),
			r.PopulationSize,
			r.TopN,
			r.Input,
			humanize.Comma(int64(r.Generations)),
			r.BestFitness,
		)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 0, "show only the last N generations (0 shows all)")
	jsonOut := fs.Bool("json", false, "emit generation records as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return errors.New("limit must be >= 0")
	}

	client, err := audiogene.New(audiogene.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.History(ctx, audiogene.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("no generations recorded")
		return nil
	}
	for _, r := range records {
		fmt.Printf("generation=%d best=%.6f mean=%.6f min=%.6f stddev=%.6f diversity=%d stale=%t fittest=%d recorded=%s\n",
			r.Generation, r.BestFitness, r.MeanFitness, r.MinFitness, r.StdDev, r.Diversity, r.Stale, r.FittestID,
			humanize.Time(r.RecordedAt))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", "exports", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := audiogene.New(audiogene.Options{StoreKind: *storeKind, DBPath: *dbPath, ExportsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, audiogene.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: audiogenectl <perform|validate|runs|history|export> [flags]", msg)
}
