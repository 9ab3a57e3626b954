package audience

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"audiogene/internal/model"
	"audiogene/internal/numeric"
)

var ErrNotInitialized = errors.New("audience preferences are not initialized")

// Publisher receives complete preference snapshots. *preference.Feed
// implements it.
type Publisher interface {
	Publish(model.Preferences)
}

// Listener is an input device that turns audience gestures into preference
// updates until ctx is done.
type Listener interface {
	Name() string
	Listen(ctx context.Context) error
}

type Config struct {
	Publisher Publisher
	Logger    *slog.Logger
	// OnUpdate, when set, is called after every accepted preference change.
	OnUpdate func(name string, pref model.Preference)
}

// Audience holds the current preference for every attribute. Device adapters
// update it from their own goroutines; Gather publishes a snapshot.
type Audience struct {
	publisher Publisher
	logger    *slog.Logger
	onUpdate  func(string, model.Preference)

	mu    sync.Mutex
	prefs model.Preferences
}

func New(cfg Config) (*Audience, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("preference publisher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Audience{publisher: cfg.Publisher, logger: logger, onUpdate: cfg.OnUpdate}, nil
}

// InitializePreferences replaces every attribute and publishes the result.
func (a *Audience) InitializePreferences(attrs map[string]model.Preference) {
	a.mu.Lock()
	a.prefs = make(model.Preferences, len(attrs))
	for name, pref := range attrs {
		pref.Name = name
		a.prefs[name] = pref
	}
	snapshot := a.prefs.Clone()
	a.mu.Unlock()

	a.logger.Info("audience preferences initialized", "attributes", len(snapshot))
	a.publisher.Publish(snapshot)
}

// SetPreference stores an absolute preference for a known attribute.
// Unknown names are ignored and reported as false.
func (a *Audience) SetPreference(name string, pref model.Preference) bool {
	a.mu.Lock()
	if _, ok := a.prefs[name]; !ok {
		a.mu.Unlock()
		a.logger.Debug("ignoring preference for unknown attribute", "attribute", name)
		return false
	}
	pref.Name = name
	a.prefs[name] = pref
	a.mu.Unlock()

	a.notify(name, pref)
	return true
}

// SetCurrent moves an attribute's desired value, clipped into its range.
func (a *Audience) SetCurrent(name string, value float64) bool {
	a.mu.Lock()
	pref, ok := a.prefs[name]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("ignoring preference for unknown attribute", "attribute", name)
		return false
	}
	pref.Current = numeric.Clamp(value, pref.Min, pref.Max)
	a.prefs[name] = pref
	a.mu.Unlock()

	a.notify(name, pref)
	return true
}

// NudgePreference steps an attribute by direction, clipped into its range.
func (a *Audience) NudgePreference(name string, direction int) bool {
	a.mu.Lock()
	pref, ok := a.prefs[name]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("ignoring nudge for unknown attribute", "attribute", name, "direction", direction)
		return false
	}
	pref.Current = numeric.Clamp(pref.Current+float64(direction), pref.Min, pref.Max)
	a.prefs[name] = pref
	a.mu.Unlock()

	a.notify(name, pref)
	return true
}

func (a *Audience) notify(name string, pref model.Preference) {
	a.logger.Debug("audience preference changed", "attribute", name, "current", pref.Current)
	if a.onUpdate != nil {
		a.onUpdate(name, pref)
	}
}

// Gather publishes the current preferences. It never blocks on the consumer.
func (a *Audience) Gather() error {
	a.mu.Lock()
	if a.prefs == nil {
		a.mu.Unlock()
		return ErrNotInitialized
	}
	snapshot := a.prefs.Clone()
	a.mu.Unlock()

	a.publisher.Publish(snapshot)
	return nil
}

// Preferences returns a copy of the current preferences.
func (a *Audience) Preferences() model.Preferences {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prefs.Clone()
}

// Preference returns the current preference for name.
func (a *Audience) Preference(name string) (model.Preference, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pref, ok := a.prefs[name]
	return pref, ok
}

// Binding maps an input gesture to an attribute step.
type Binding struct {
	Attribute string
	Direction int
}

// Silent is the listener used when no input device is configured. It only
// waits for shutdown.
type Silent struct{}

func (Silent) Name() string {
	return "silent"
}

func (Silent) Listen(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func sortedNames(prefs model.Preferences) []string {
	names := make([]string, 0, len(prefs))
	for name := range prefs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
