package audience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

var ErrNoMIDIPorts = errors.New("no MIDI input ports available")

// KeyPair names the MIDI keys that raise and lower one attribute.
type KeyPair struct {
	Up   int `toml:"up"`
	Down int `toml:"down"`
}

// KeyBindings flattens an attribute->keys mapping into a key lookup. Keys
// must be valid MIDI note numbers and may be bound only once.
func KeyBindings(mapping map[string]KeyPair) (map[uint8]Binding, error) {
	out := make(map[uint8]Binding, len(mapping)*2)
	attrs := make([]string, 0, len(mapping))
	for attr := range mapping {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		pair := mapping[attr]
		for _, item := range []struct {
			key       int
			direction int
		}{{pair.Up, 1}, {pair.Down, -1}} {
			if item.key < 0 || item.key > 127 {
				return nil, fmt.Errorf("attribute %s: midi key %d out of range [0, 127]", attr, item.key)
			}
			if prev, ok := out[uint8(item.key)]; ok {
				return nil, fmt.Errorf("attribute %s: midi key %d already bound to %s", attr, item.key, prev.Attribute)
			}
			out[uint8(item.key)] = Binding{Attribute: attr, Direction: item.direction}
		}
	}
	return out, nil
}

type MIDIConfig struct {
	// Device selects the first input port whose name starts with it. Empty
	// or unmatched selects the first port.
	Device string
	Keys   map[uint8]Binding
	// Driver defaults to the build's native driver.
	Driver drivers.Driver
	Logger *slog.Logger
}

// MIDI nudges preferences when a mapped key is released.
type MIDI struct {
	aud    *Audience
	cfg    MIDIConfig
	logger *slog.Logger
}

func NewMIDI(aud *Audience, cfg MIDIConfig) (*MIDI, error) {
	if aud == nil {
		return nil, errors.New("audience is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MIDI{aud: aud, cfg: cfg, logger: logger.With("input", "midi")}, nil
}

func (m *MIDI) Name() string {
	return "midi"
}

// Listen opens the configured port and handles messages until ctx is done or
// the device reports an error.
func (m *MIDI) Listen(ctx context.Context) error {
	drv := m.cfg.Driver
	if drv == nil {
		native, err := openNativeDriver()
		if err != nil {
			return err
		}
		defer native.Close()
		drv = native
	}

	ins, err := drv.Ins()
	if err != nil {
		return fmt.Errorf("list midi inputs: %w", err)
	}
	if len(ins) == 0 {
		return ErrNoMIDIPorts
	}
	m.logger.Info("midi ports available", "count", len(ins))
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	in := ins[choosePort(names, m.cfg.Device)]

	if err := in.Open(); err != nil {
		return fmt.Errorf("open midi input %s: %w", in, err)
	}
	defer in.Close()

	failed := make(chan error, 1)
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		m.handle(msg)
	}, midi.HandleError(func(listenErr error) {
		select {
		case failed <- listenErr:
		default:
		}
	}))
	if err != nil {
		return fmt.Errorf("listen to midi input %s: %w", in, err)
	}
	defer stop()
	m.logger.Info("midi input connected", "device", in.String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-failed:
		return fmt.Errorf("midi input %s: %w", in, err)
	}
}

// handle applies a note-off of a bound key. Everything else is ignored.
func (m *MIDI) handle(msg midi.Message) bool {
	var channel, key uint8
	if !msg.GetNoteEnd(&channel, &key) {
		return false
	}
	binding, ok := m.cfg.Keys[key]
	if !ok {
		m.logger.Debug("unmapped note off", "channel", channel, "key", key)
		return false
	}
	return m.aud.NudgePreference(binding.Attribute, binding.Direction)
}

func choosePort(names []string, device string) int {
	if device == "" {
		return 0
	}
	for i, name := range names {
		if strings.HasPrefix(name, device) {
			return i
		}
	}
	return 0
}
