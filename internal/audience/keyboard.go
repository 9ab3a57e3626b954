package audience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"
)

// RunePair names the keys that raise and lower one attribute.
type RunePair struct {
	Up   string `toml:"up"`
	Down string `toml:"down"`
}

// RuneBindings flattens an attribute->keys mapping into a rune lookup. Each
// key must be a single character and may be bound only once.
func RuneBindings(mapping map[string]RunePair) (map[rune]Binding, error) {
	out := make(map[rune]Binding, len(mapping)*2)
	for attr, pair := range mapping {
		for _, item := range []struct {
			key       string
			direction int
		}{{pair.Up, 1}, {pair.Down, -1}} {
			if utf8.RuneCountInString(item.key) != 1 {
				return nil, fmt.Errorf("attribute %s: key %q must be a single character", attr, item.key)
			}
			r, _ := utf8.DecodeRuneInString(item.key)
			if prev, ok := out[r]; ok {
				return nil, fmt.Errorf("attribute %s: key %q already bound to %s", attr, item.key, prev.Attribute)
			}
			out[r] = Binding{Attribute: attr, Direction: item.direction}
		}
	}
	return out, nil
}

type KeyboardConfig struct {
	Keys map[rune]Binding
	// Screen defaults to the controlling terminal.
	Screen tcell.Screen
	// OnQuit is called when the operator presses Escape or Ctrl-C. Raw mode
	// swallows SIGINT.
	OnQuit func()
	Logger *slog.Logger
}

// Keyboard reads audience gestures from terminal key presses and shows the
// current preferences.
type Keyboard struct {
	aud    *Audience
	cfg    KeyboardConfig
	logger *slog.Logger
}

func NewKeyboard(aud *Audience, cfg KeyboardConfig) (*Keyboard, error) {
	if aud == nil {
		return nil, errors.New("audience is required")
	}
	if len(cfg.Keys) == 0 {
		return nil, errors.New("keyboard input needs at least one key binding")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Keyboard{aud: aud, cfg: cfg, logger: logger.With("input", "keyboard")}, nil
}

func (k *Keyboard) Name() string {
	return "keyboard"
}

func (k *Keyboard) Listen(ctx context.Context) error {
	screen := k.cfg.Screen
	if screen == nil {
		var err error
		screen, err = tcell.NewScreen()
		if err != nil {
			return fmt.Errorf("open terminal: %w", err)
		}
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer screen.Fini()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = screen.PostEvent(tcell.NewEventInterrupt(nil))
		case <-stopped:
		}
	}()

	k.draw(screen)
	for {
		ev := screen.PollEvent()
		if ev == nil {
			return ctx.Err()
		}
		switch ev := ev.(type) {
		case *tcell.EventInterrupt:
			if err := ctx.Err(); err != nil {
				return err
			}
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
				k.logger.Info("keyboard quit requested")
				if k.cfg.OnQuit != nil {
					k.cfg.OnQuit()
				}
				continue
			}
			if ev.Key() == tcell.KeyRune && k.press(ev.Rune()) {
				k.draw(screen)
			}
		case *tcell.EventResize:
			screen.Sync()
			k.draw(screen)
		}
	}
}

func (k *Keyboard) press(r rune) bool {
	binding, ok := k.cfg.Keys[r]
	if !ok {
		return false
	}
	return k.aud.NudgePreference(binding.Attribute, binding.Direction)
}

func (k *Keyboard) draw(screen tcell.Screen) {
	screen.Clear()
	prefs := k.aud.Preferences()
	style := tcell.StyleDefault
	putLine(screen, 0, "audiogene: audience preferences (Esc to stop)", style.Bold(true))
	for i, name := range sortedNames(prefs) {
		p := prefs[name]
		putLine(screen, i+2, fmt.Sprintf("%-16s %8.2f  [%g, %g]", name, p.Current, p.Min, p.Max), style)
	}
	screen.Show()
}

func putLine(screen tcell.Screen, y int, text string, style tcell.Style) {
	x := 0
	for _, r := range text {
		screen.SetContent(x, y, r, nil, style)
		x++
	}
}
