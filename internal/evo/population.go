package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"audiogene/internal/genetics"
	"audiogene/internal/model"
	"audiogene/internal/numeric"
	"audiogene/internal/preference"
)

const DefaultFreshnessTimeout = 5 * time.Second

// SnapshotSource hands out preference snapshots newer than a known version,
// waiting at most timeout. *preference.Synchronizer implements it.
type SnapshotSource interface {
	Await(ctx context.Context, after uint64, timeout time.Duration) (preference.Snapshot, bool, error)
}

type PopulationConfig struct {
	Size                int
	TopN                int
	MutationProbability float64
	Source              numeric.Source
	IDs                 *model.IDGenerator
	Preferences         SnapshotSource
	Selector            Selector
	FreshnessTimeout    time.Duration
	Logger              *slog.Logger
}

type GenerationReport struct {
	Diagnostics       GenerationDiagnostics
	Fittest           model.Individual
	Stale             bool
	PreferenceVersion uint64
	MissingGenes      []string
}

// Population is the set of candidate conductors. NextGeneration is the only
// mutator; Fittest may be called from any goroutine.
type Population struct {
	cfg      PopulationConfig
	genetics *genetics.Genetics
	logger   *slog.Logger

	mu         sync.Mutex
	ranked     []ScoredIndividual
	snapshot   preference.Snapshot
	generation int

	fittest atomic.Pointer[model.Individual]
}

func NewPopulation(cfg PopulationConfig, seed model.Individual) (*Population, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.TopN <= 0 || cfg.TopN > cfg.Size {
		return nil, fmt.Errorf("keep fittest must be in [1, population size]")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if cfg.Preferences == nil {
		return nil, fmt.Errorf("preference source is required")
	}
	if seed.Len() == 0 {
		return nil, fmt.Errorf("seed individual has no genes")
	}
	g, err := genetics.New(cfg.Source, cfg.MutationProbability)
	if err != nil {
		return nil, err
	}
	if cfg.IDs == nil {
		cfg.IDs = &model.IDGenerator{}
	}
	if cfg.Selector == nil {
		cfg.Selector = UniquePairSelector{}
	}
	if cfg.FreshnessTimeout <= 0 {
		cfg.FreshnessTimeout = DefaultFreshnessTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Population{cfg: cfg, genetics: g, logger: logger}
	genes := seed.Instructions()
	individuals := make([]model.Individual, cfg.Size)
	for i := range individuals {
		individuals[i] = model.NewIndividual(cfg.IDs.Next(), genetics.Create(genes))
	}
	p.ranked, _ = rank(individuals, nil)
	p.publishFittest()
	return p, nil
}

// NextGeneration waits up to the freshness timeout for newer preferences,
// keeps the TopN fittest, refills the population with their offspring and
// ranks it again. When no new preferences arrive in time the previous
// snapshot is reused and the report is marked stale. A cancelled ctx aborts
// the call before the population changes.
func (p *Population) NextGeneration(ctx context.Context) (GenerationReport, error) {
	p.mu.Lock()
	held := p.snapshot.Version
	p.mu.Unlock()

	snap, fresh, err := p.cfg.Preferences.Await(ctx, held, p.cfg.FreshnessTimeout)
	if err != nil {
		return GenerationReport{}, fmt.Errorf("await preferences: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.Version > p.snapshot.Version {
		p.snapshot = snap
	}
	if !fresh {
		p.logger.Debug("no fresh preferences, reusing snapshot", "version", p.snapshot.Version)
	}

	p.generation++
	survivors := make([]ScoredIndividual, p.cfg.TopN)
	copy(survivors, p.ranked[:p.cfg.TopN])

	next := make([]model.Individual, 0, p.cfg.Size)
	for _, s := range survivors {
		next = append(next, s.Individual)
	}
	for len(next) < p.cfg.Size {
		a, b, err := p.cfg.Selector.PickParents(p.cfg.Source, survivors)
		if err != nil {
			return GenerationReport{}, fmt.Errorf("pick parents: %w", err)
		}
		next = append(next, p.breed(a, b))
	}

	var missing []string
	p.ranked, missing = rank(next, p.snapshot.Preferences)
	p.publishFittest()
	if len(missing) > 0 {
		p.logger.Warn("genes without audience preference", "generation", p.generation, "genes", missing)
	}

	return GenerationReport{
		Diagnostics:       summarizeGeneration(p.ranked, p.generation),
		Fittest:           p.ranked[0].Individual,
		Stale:             !fresh,
		PreferenceVersion: p.snapshot.Version,
		MissingGenes:      missing,
	}, nil
}

func (p *Population) breed(a, b model.Individual) model.Individual {
	child, err := p.genetics.Combine(a.Instructions(), b.Instructions())
	if err != nil {
		// The child keeps only the genes both parents share.
		p.logger.Error("combine parents", "first", a.ID(), "second", b.ID(), "error", err)
	}
	return model.NewIndividual(p.cfg.IDs.Next(), p.genetics.Mutate(child))
}

func (p *Population) publishFittest() {
	best := p.ranked[0].Individual
	p.fittest.Store(&best)
}

// Fittest returns the best individual of the latest generation without
// waiting for a generation in progress.
func (p *Population) Fittest() model.Individual {
	return *p.fittest.Load()
}

func (p *Population) Generation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Individuals returns the population best first.
func (p *Population) Individuals() []model.Individual {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Individual, len(p.ranked))
	for i, s := range p.ranked {
		out[i] = s.Individual
	}
	return out
}

// Ranked returns the population with the fitness each was sorted by.
func (p *Population) Ranked() []ScoredIndividual {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ScoredIndividual, len(p.ranked))
	copy(out, p.ranked)
	return out
}

// Snapshot is the preference snapshot the population is currently ranked by.
func (p *Population) Snapshot() preference.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

func (p *Population) Size() int {
	return p.cfg.Size
}

func (p *Population) TopN() int {
	return p.cfg.TopN
}

func (p *Population) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "Population generation %d (%d individuals, keep %d)\n", p.generation, len(p.ranked), p.cfg.TopN)
	for _, s := range p.ranked {
		fmt.Fprintf(&b, "fitness %s: %s", formatFitness(s.Fitness), s.Individual)
	}
	return b.String()
}

func formatFitness(f float64) string {
	if math.IsNaN(f) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", f)
}

// IsCancelled reports whether err came from a cancelled or expired context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
