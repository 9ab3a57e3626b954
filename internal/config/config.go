package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"audiogene/internal/audience"
	"audiogene/internal/evo"
	"audiogene/internal/model"
	"audiogene/internal/transport"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	InputMIDI     = "midi"
	InputKeyboard = "keyboard"
	InputNATS     = "nats"
	InputNone     = "none"
)

// Duration decodes TOML strings such as "5s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Gene struct {
	Min       float64 `toml:"min"`
	Max       float64 `toml:"max"`
	Current   float64 `toml:"current"`
	Round     bool    `toml:"round"`
	Activates string  `toml:"activates"`
}

func (g Gene) Expression() model.Expression {
	return model.Expression{
		Min:       g.Min,
		Max:       g.Max,
		Current:   g.Current,
		Round:     g.Round,
		Activates: model.ParseActivation(g.Activates),
	}
}

type NATSInput struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

type Input struct {
	Type string `toml:"type"`
	// Name picks the MIDI port by prefix.
	Name string                       `toml:"name"`
	Map  map[string]audience.KeyPair  `toml:"map"`
	Keys map[string]audience.RunePair `toml:"keys"`
	NATS NATSInput                    `toml:"nats"`
}

type OSC struct {
	Port int `toml:"port"`
}

type SuperCollider struct {
	Addr           string   `toml:"addr"`
	Port           int      `toml:"port"`
	RequestTimeout Duration `toml:"request_timeout"`
}

type Store struct {
	Kind string `toml:"kind"`
	Path string `toml:"path"`
}

type Metrics struct {
	// Addr of the /metrics endpoint; empty disables it.
	Addr string `toml:"addr"`
}

type Config struct {
	PopulationSize   int             `toml:"population_size"`
	KeepFittest      int             `toml:"keep_fittest"`
	MutationProb     float64         `toml:"mutation_prob"`
	FreshnessTimeout Duration        `toml:"freshness_timeout"`
	Seed             int64           `toml:"seed"`
	Selection        string          `toml:"selection"`
	TournamentSize   int             `toml:"tournament_size"`
	Genes            map[string]Gene `toml:"genes"`
	Input            Input           `toml:"input"`
	OSC              OSC             `toml:"osc"`
	SuperCollider    SuperCollider   `toml:"supercollider"`
	Store            Store           `toml:"store"`
	Metrics          Metrics         `toml:"metrics"`
}

func Default() Config {
	return Config{
		PopulationSize:   8,
		KeepFittest:      3,
		MutationProb:     0.2,
		FreshnessTimeout: Duration{evo.DefaultFreshnessTimeout},
		Selection:        evo.UniquePairSelector{}.Name(),
		TournamentSize:   2,
		Input:            Input{Type: InputNone},
		OSC:              OSC{Port: transport.DefaultListenPort},
		SuperCollider: SuperCollider{
			Addr:           transport.DefaultEngineAddr,
			Port:           transport.DefaultEnginePort,
			RequestTimeout: Duration{transport.DefaultRequestTimeout},
		},
		Store: Store{Kind: "memory", Path: "audiogene.db"},
	}
}

// Load reads a TOML file over the defaults and validates the result. Files
// ending in .yaml or .yml are read with LoadYAML.
func Load(path string) (Config, error) {
	if isYAML(path) {
		return LoadYAML(path)
	}
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return finish(cfg, md)
}

// Parse is Load for an in-memory document.
func Parse(data string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return finish(cfg, md)
}

func finish(cfg Config, md toml.MetaData) (Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.PopulationSize <= 0 {
		invalid("population_size must be > 0, got %d", c.PopulationSize)
	}
	if c.KeepFittest <= 0 || c.KeepFittest > c.PopulationSize {
		invalid("keep_fittest must be in [1, population_size], got %d", c.KeepFittest)
	}
	if c.MutationProb < 0 || c.MutationProb > 1 || math.IsNaN(c.MutationProb) {
		invalid("mutation_prob must be in [0, 1], got %g", c.MutationProb)
	}
	if c.FreshnessTimeout.Duration < 0 {
		invalid("freshness_timeout must not be negative")
	}
	if _, err := evo.SelectorByName(c.Selection, c.TournamentSize); err != nil {
		invalid("%v", err)
	}

	if len(c.Genes) == 0 {
		invalid("at least one gene is required")
	}
	for _, name := range c.geneNames() {
		gene := c.Genes[name]
		if err := gene.Expression().Validate(); err != nil {
			invalid("gene %s: %v", name, err)
			continue
		}
		if gene.Max <= 0 {
			invalid("gene %s: max must be positive to rank similarity, got %g", name, gene.Max)
		}
		if gene.Round && math.Ceil(gene.Min) > gene.Max {
			invalid("gene %s: rounded gene has no integer in [%g, %g]", name, gene.Min, gene.Max)
		}
		switch model.Activation(gene.Activates) {
		case "", model.OnBar, model.OverBar:
		default:
			invalid("gene %s: unknown activation %q", name, gene.Activates)
		}
	}

	switch c.Input.Type {
	case InputMIDI:
		if len(c.Input.Map) == 0 {
			invalid("midi input needs a key map")
		}
		if _, err := audience.KeyBindings(c.Input.Map); err != nil {
			invalid("input map: %v", err)
		}
		errs = append(errs, c.checkBoundAttributes(mapKeys(c.Input.Map))...)
	case InputKeyboard:
		if len(c.Input.Keys) == 0 {
			invalid("keyboard input needs key bindings")
		}
		if _, err := audience.RuneBindings(c.Input.Keys); err != nil {
			invalid("input keys: %v", err)
		}
		errs = append(errs, c.checkBoundAttributes(mapKeys(c.Input.Keys))...)
	case InputNATS, InputNone, "":
	default:
		invalid("unknown input type %q", c.Input.Type)
	}

	if c.OSC.Port < 0 || c.OSC.Port > 65535 {
		invalid("osc port out of range: %d", c.OSC.Port)
	}
	if c.SuperCollider.Port <= 0 || c.SuperCollider.Port > 65535 {
		invalid("supercollider port out of range: %d", c.SuperCollider.Port)
	}
	if c.SuperCollider.RequestTimeout.Duration < 0 {
		invalid("supercollider request_timeout must not be negative")
	}
	switch c.Store.Kind {
	case "", "memory", "sqlite":
	default:
		invalid("unsupported store kind %q", c.Store.Kind)
	}
	return errors.Join(errs...)
}

func (c Config) checkBoundAttributes(attrs []string) []error {
	var errs []error
	for _, attr := range attrs {
		if _, ok := c.Genes[attr]; !ok {
			errs = append(errs, fmt.Errorf("%w: input binds unknown gene %s", ErrInvalid, attr))
		}
	}
	return errs
}

func (c Config) geneNames() []string {
	return mapKeys(c.Genes)
}

// Instructions builds the seed conductor's genes.
func (c Config) Instructions() model.Instructions {
	out := make(model.Instructions, len(c.Genes))
	for name, gene := range c.Genes {
		out[name] = model.NewInstruction(name, gene.Expression())
	}
	return out
}

// Preferences derives the audience's starting preferences from the genes.
func (c Config) Preferences() map[string]model.Preference {
	out := make(map[string]model.Preference, len(c.Genes))
	for name, ins := range c.Instructions() {
		out[name] = model.PreferenceFor(ins)
	}
	return out
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
