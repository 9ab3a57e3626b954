package audiogene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"audiogene/internal/config"
	"audiogene/internal/model"
	"audiogene/internal/performance"
	"audiogene/internal/stats"
	"audiogene/internal/storage"
)

const (
	defaultDBPath     = "audiogene.db"
	defaultExportsDir = "exports"
	defaultRunsLimit  = 20
)

var ErrNoRuns = errors.New("no runs recorded")

type Options struct {
	StoreKind  string
	DBPath     string
	ExportsDir string
}

type Client struct {
	store      storage.Store
	exportsDir string

	initOnce sync.Once
	initErr  error
}

type PerformRequest struct {
	ConfigPath string
	// Seed overrides the configured seed when non-zero.
	Seed int64
	// MetricsAddr overrides the configured metrics address when set.
	MetricsAddr string
	// DryRunInterval > 0 plays without a sound engine.
	DryRunInterval time.Duration
	// Generations > 0 ends the performance after that many generations.
	Generations int
	Logger      *slog.Logger
}

type PerformSummary struct {
	RunID       string
	Generations int
	Fittest     []model.GeneSnapshot
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	StartedAt      time.Time
	PopulationSize int
	TopN           int
	Input          string
	Generations    int
	BestFitness    float64
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type ValidateSummary struct {
	PopulationSize int
	KeepFittest    int
	Input          string
	Seed           []model.GeneSnapshot
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, exportsDir: exportsDir}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// Perform loads a config file and plays until ctx is done or the generation
// limit is reached.
func (c *Client) Perform(ctx context.Context, req PerformRequest) (PerformSummary, error) {
	if req.ConfigPath == "" {
		return PerformSummary{}, errors.New("config path is required")
	}
	settings, err := config.Load(req.ConfigPath)
	if err != nil {
		return PerformSummary{}, err
	}
	if req.Seed != 0 {
		settings.Seed = req.Seed
	}
	if req.MetricsAddr != "" {
		settings.Metrics.Addr = req.MetricsAddr
	}
	if err := c.ensureStore(ctx); err != nil {
		return PerformSummary{}, err
	}

	perf, err := performance.New(performance.Config{
		Settings:       settings,
		Store:          c.store,
		DryRunInterval: req.DryRunInterval,
		Generations:    req.Generations,
		Logger:         req.Logger,
	})
	if err != nil {
		return PerformSummary{}, err
	}
	result, err := perf.Run(ctx)
	summary := PerformSummary{
		RunID:       result.RunID,
		Generations: result.Generations,
		Fittest:     model.SnapshotGenes(result.Fittest),
	}
	return summary, err
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}

	out := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		generations, err := c.store.GetGenerations(ctx, run.ID, 0)
		if err != nil {
			return nil, err
		}
		item := RunItem{
			RunID:          run.ID,
			StartedAt:      run.StartedAt,
			PopulationSize: run.PopulationSize,
			TopN:           run.TopN,
			Input:          run.Input,
			Generations:    len(generations),
		}
		if n := len(generations); n > 0 {
			item.BestFitness = generations[n-1].BestFitness
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.GenerationRecord, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if _, ok, err := c.store.GetRun(ctx, runID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, runID)
	}
	return c.store.GetGenerations(ctx, runID, req.Limit)
}

// Export writes a run's record, generations and fitness series under
// OutDir/<run id>.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}
	if !ok {
		return ExportSummary{}, fmt.Errorf("%w: %s", storage.ErrRunNotFound, runID)
	}
	generations, err := c.store.GetGenerations(ctx, runID, 0)
	if err != nil {
		return ExportSummary{}, err
	}
	dir, err := stats.WriteRunArtifacts(req.OutDir, run, generations)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	if runID != "" {
		return runID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrNoRuns
	}
	return runs[0].ID, nil
}

// Validate loads and checks a config file without starting anything.
func Validate(path string) (ValidateSummary, error) {
	settings, err := config.Load(path)
	if err != nil {
		return ValidateSummary{}, err
	}
	input := settings.Input.Type
	if input == "" {
		input = config.InputNone
	}
	return ValidateSummary{
		PopulationSize: settings.PopulationSize,
		KeepFittest:    settings.KeepFittest,
		Input:          input,
		Seed:           model.SnapshotGenes(model.NewIndividual(0, settings.Instructions())),
	}, nil
}
