package performance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"

	"audiogene/internal/audience"
	"audiogene/internal/config"
	"audiogene/internal/evo"
	"audiogene/internal/metrics"
	"audiogene/internal/model"
	"audiogene/internal/numeric"
	"audiogene/internal/platform"
	"audiogene/internal/preference"
	"audiogene/internal/storage"
	"audiogene/internal/transport"
)

const defaultMaxRestarts = 10

type Config struct {
	Settings config.Config
	Store    storage.Store
	// Musician overrides the one built from Settings.
	Musician transport.Musician
	// Listener overrides the audience input built from Settings.
	Listener audience.Listener
	// DryRunInterval > 0 replaces the sound engine with a Ticker.
	DryRunInterval time.Duration
	// Generations > 0 ends the performance after that many generations.
	Generations int
	Metrics     *metrics.Recorder
	// Supervision tunes background task restarts; MaxRestarts defaults to 10.
	Supervision platform.Policy
	// Screen is handed to the keyboard input; nil uses the terminal.
	Screen tcell.Screen
	Logger *slog.Logger
}

type Summary struct {
	RunID       string
	Generations int
	Fittest     model.Individual
}

// Performance seats an audience in front of a musician and evolves the
// conductor between the musician's requests.
type Performance struct {
	cfg        Config
	settings   config.Config
	logger     *slog.Logger
	recorder   *metrics.Recorder
	audience   *audience.Audience
	feed       *preference.Feed
	sync       *preference.Synchronizer
	population *evo.Population
	musician   transport.Musician
	listener   audience.Listener
	seed       model.Individual
	quit       chan struct{}
}

func New(cfg Config) (*Performance, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	settings := cfg.Settings

	p := &Performance{
		cfg:      cfg,
		settings: settings,
		logger:   logger,
		recorder: recorder,
		feed:     preference.NewFeed(),
		quit:     make(chan struct{}),
	}

	aud, err := audience.New(audience.Config{
		Publisher: p.feed,
		Logger:    logger.With("component", "audience"),
		OnUpdate: func(name string, _ model.Preference) {
			recorder.PreferenceUpdated(name)
		},
	})
	if err != nil {
		return nil, err
	}
	p.audience = aud

	p.sync, err = preference.NewSynchronizer(preference.SynchronizerConfig{
		Feed:   p.feed,
		Logger: logger.With("component", "preferences"),
	})
	if err != nil {
		return nil, err
	}

	selector, err := evo.SelectorByName(settings.Selection, settings.TournamentSize)
	if err != nil {
		return nil, err
	}
	ids := &model.IDGenerator{}
	p.seed = model.NewIndividual(ids.Next(), settings.Instructions())
	p.population, err = evo.NewPopulation(evo.PopulationConfig{
		Size:                settings.PopulationSize,
		TopN:                settings.KeepFittest,
		MutationProbability: settings.MutationProb,
		Source:              numeric.NewSource(settings.Seed),
		IDs:                 ids,
		Preferences:         p.sync,
		Selector:            selector,
		FreshnessTimeout:    settings.FreshnessTimeout.Duration,
		Logger:              logger.With("component", "population"),
	}, p.seed)
	if err != nil {
		return nil, fmt.Errorf("build population: %w", err)
	}

	p.musician = cfg.Musician
	if p.musician == nil {
		if p.musician, err = p.buildMusician(); err != nil {
			return nil, err
		}
	}
	p.listener = cfg.Listener
	if p.listener == nil {
		if p.listener, err = p.buildListener(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Performance) buildMusician() (transport.Musician, error) {
	if p.cfg.DryRunInterval > 0 {
		return transport.NewTicker(p.cfg.DryRunInterval, p.logger), nil
	}
	sc := p.settings.SuperCollider
	return transport.NewOSC(transport.OSCConfig{
		ListenAddr:     net.JoinHostPort("", strconv.Itoa(p.settings.OSC.Port)),
		EngineAddr:     sc.Addr,
		EnginePort:     sc.Port,
		RequestTimeout: sc.RequestTimeout.Duration,
		Logger:         p.logger,
	})
}

func (p *Performance) buildListener() (audience.Listener, error) {
	input := p.settings.Input
	switch input.Type {
	case config.InputMIDI:
		keys, err := audience.KeyBindings(input.Map)
		if err != nil {
			return nil, err
		}
		return audience.NewMIDI(p.audience, audience.MIDIConfig{Device: input.Name, Keys: keys, Logger: p.logger})
	case config.InputKeyboard:
		keys, err := audience.RuneBindings(input.Keys)
		if err != nil {
			return nil, err
		}
		return audience.NewKeyboard(p.audience, audience.KeyboardConfig{
			Keys:   keys,
			Screen: p.cfg.Screen,
			OnQuit: p.requestQuit,
			Logger: p.logger,
		})
	case config.InputNATS:
		return audience.NewNATS(p.audience, audience.NATSConfig{
			URL:     input.NATS.URL,
			Subject: input.NATS.Subject,
			Logger:  p.logger,
		})
	default:
		return audience.Silent{}, nil
	}
}

func (p *Performance) requestQuit() {
	select {
	case p.quit <- struct{}{}:
	default:
	}
}

func (p *Performance) Audience() *audience.Audience {
	return p.audience
}

func (p *Performance) Population() *evo.Population {
	return p.population
}

func (p *Performance) Recorder() *metrics.Recorder {
	return p.recorder
}

// Run plays until ctx is done, the generation limit is reached or a
// background task fails for good.
func (p *Performance) Run(ctx context.Context) (Summary, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if err := p.cfg.Store.Init(runCtx); err != nil {
		return Summary{}, fmt.Errorf("init store: %w", err)
	}
	runID := uuid.NewString()
	run := model.RunRecord{
		VersionedRecord:     storage.CurrentVersion(),
		ID:                  runID,
		StartedAt:           time.Now().UTC(),
		PopulationSize:      p.settings.PopulationSize,
		TopN:                p.settings.KeepFittest,
		MutationProbability: p.settings.MutationProb,
		Selection:           p.settings.Selection,
		Input:               p.listener.Name(),
		Seed:                model.SnapshotGenes(p.seed),
	}
	if err := p.cfg.Store.SaveRun(runCtx, run); err != nil {
		return Summary{}, fmt.Errorf("save run: %w", err)
	}
	logger := p.logger.With("run_id", runID)
	logger.Info("performance starting",
		"population", p.settings.PopulationSize,
		"keep_fittest", p.settings.KeepFittest,
		"input", p.listener.Name(),
	)

	policy := p.cfg.Supervision
	if policy.MaxRestarts == 0 {
		policy.MaxRestarts = defaultMaxRestarts
	}
	supervisor := platform.NewSupervisor(policy, platform.Hooks{
		OnTaskPermanentFailure: func(name string, err error, _ int) {
			cancel(fmt.Errorf("%s failed: %w", name, err))
		},
	}, logger)
	defer supervisor.StopAll()
	if err := p.startTasks(runCtx, supervisor); err != nil {
		return Summary{}, err
	}
	go func() {
		select {
		case <-p.quit:
			logger.Info("quit requested")
			cancel(nil)
		case <-runCtx.Done():
		}
	}()

	p.audience.InitializePreferences(p.settings.Preferences())

	summary := Summary{RunID: runID, Fittest: p.population.Fittest()}
	for p.cfg.Generations <= 0 || summary.Generations < p.cfg.Generations {
		if !p.musician.RequestConductor(runCtx) {
			break
		}
		if err := p.audience.Gather(); err != nil {
			return summary, err
		}

		started := time.Now()
		report, err := p.population.NextGeneration(runCtx)
		if err != nil {
			if evo.IsCancelled(err) {
				break
			}
			return summary, err
		}
		diag := report.Diagnostics
		p.recorder.ObserveGeneration(diag.Generation, diag.BestFitness, diag.MeanFitness, report.Stale, time.Since(started))
		summary.Generations = diag.Generation
		summary.Fittest = report.Fittest

		logger.Info("generation",
			"generation", diag.Generation,
			"best", diag.BestFitness,
			"mean", diag.MeanFitness,
			"diversity", diag.Diversity,
			"stale", report.Stale,
			"preferences", report.PreferenceVersion,
			"fittest", report.Fittest.ID(),
		)
		if logger.Enabled(runCtx, slog.LevelDebug) {
			logger.Debug("population", "state", p.population.String())
		}

		if err := p.musician.SetConductor(runCtx, report.Fittest); err != nil {
			p.recorder.ConductorSendFailed()
			logger.Warn("send conductor", "generation", diag.Generation, "error", err)
		}
		if err := p.cfg.Store.AppendGeneration(runCtx, generationRecord(runID, report)); err != nil {
			logger.Error("persist generation", "generation", diag.Generation, "error", err)
		}
	}

	supervisor.StopAll()
	logger.Info("performance finished", "generations", summary.Generations)
	if cause := context.Cause(runCtx); cause != nil && !isNormalStop(cause) {
		return summary, cause
	}
	return summary, nil
}

func (p *Performance) startTasks(ctx context.Context, supervisor *platform.Supervisor) error {
	if err := supervisor.Start(ctx, "preferences", p.sync.Run); err != nil {
		return err
	}
	if server, ok := p.musician.(transport.Server); ok {
		if err := supervisor.StartSpec(ctx, platform.TaskSpec{Name: "musician", Restart: platform.RestartTransient}, server.Serve); err != nil {
			return err
		}
	}
	if err := supervisor.StartSpec(ctx, platform.TaskSpec{Name: "input:" + p.listener.Name(), Restart: platform.RestartTransient}, p.listener.Listen); err != nil {
		return err
	}
	if addr := p.settings.Metrics.Addr; addr != "" {
		serve := func(ctx context.Context) error { return p.recorder.Serve(ctx, addr) }
		if err := supervisor.StartSpec(ctx, platform.TaskSpec{Name: "metrics", Restart: platform.RestartTransient}, serve); err != nil {
			return err
		}
	}
	return nil
}

func isNormalStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func generationRecord(runID string, report evo.GenerationReport) model.GenerationRecord {
	diag := report.Diagnostics
	return model.GenerationRecord{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		Generation:      diag.Generation,
		RecordedAt:      time.Now().UTC(),
		FittestID:       report.Fittest.ID(),
		Fittest:         model.SnapshotGenes(report.Fittest),
		BestFitness:     diag.BestFitness,
		MeanFitness:     diag.MeanFitness,
		MinFitness:      diag.MinFitness,
		StdDev:          diag.StdDevFitness,
		Diversity:       diag.Diversity,
		Stale:           report.Stale,
		MissingGenes:    report.MissingGenes,
	}
}
