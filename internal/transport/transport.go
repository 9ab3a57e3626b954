package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"audiogene/internal/model"
)

// Musician is the sound engine side of a performance.
type Musician interface {
	// RequestConductor blocks until the engine asks for a new conductor or
	// its wait expires. Both count as a request; false means ctx is done.
	RequestConductor(ctx context.Context) bool
	SetConductor(ctx context.Context, conductor model.Individual) error
}

// Server is implemented by musicians that need a background loop, such as
// a network listener, while the performance runs.
type Server interface {
	Serve(ctx context.Context) error
}

// Ticker is a musician without a sound engine: it asks for a conductor on a
// fixed interval and logs each one it is given. Used for rehearsals.
type Ticker struct {
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last model.Individual
	sets int
}

func NewTicker(interval time.Duration, logger *slog.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ticker{interval: interval, logger: logger.With("musician", "ticker")}
}

func (t *Ticker) RequestConductor(ctx context.Context) bool {
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Ticker) SetConductor(_ context.Context, conductor model.Individual) error {
	t.mu.Lock()
	t.last = conductor
	t.sets++
	t.mu.Unlock()
	t.logger.Info("new conductor", "id", conductor.ID(), "genes", model.SnapshotGenes(conductor))
	return nil
}

// Last returns the most recent conductor and how many have been set.
func (t *Ticker) Last() (model.Individual, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.sets
}
