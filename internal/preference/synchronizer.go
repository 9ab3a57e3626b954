package preference

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"audiogene/internal/model"
)

// Snapshot is a versioned preference set. Version 0 means no preferences
// have been delivered yet.
type Snapshot struct {
	Version     uint64
	Preferences model.Preferences
}

type awaitRequest struct {
	after uint64
	reply chan Snapshot
	// gone is closed once the caller stops waiting.
	gone chan struct{}
}

type SynchronizerConfig struct {
	Feed   *Feed
	Logger *slog.Logger
	// OnUpdate, when set, is called from the drain goroutine after every
	// accepted snapshot.
	OnUpdate func(Snapshot)
}

// Synchronizer drains a Feed and owns the latest snapshot. Run is the only
// writer; readers either load the latest value or ask, with a bounded wait,
// for one newer than the version they hold.
type Synchronizer struct {
	feed     *Feed
	logger   *slog.Logger
	onUpdate func(Snapshot)

	requests chan awaitRequest
	latest   atomic.Pointer[Snapshot]
	running  atomic.Bool
	pending  atomic.Int32
}

func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Feed == nil {
		return nil, errors.New("preference feed is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synchronizer{
		feed:     cfg.Feed,
		logger:   logger,
		onUpdate: cfg.OnUpdate,
		requests: make(chan awaitRequest),
	}, nil
}

// Run drains the feed until ctx is done. It must not be called twice
// concurrently.
func (s *Synchronizer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("synchronizer already running")
	}
	defer s.running.Store(false)

	current := Snapshot{}
	if latest := s.latest.Load(); latest != nil {
		current = *latest
	}
	var waiters []awaitRequest

	for {
		received := 0
		for {
			prefs, ok := s.feed.TryNext()
			if !ok {
				break
			}
			current = Snapshot{Version: current.Version + 1, Preferences: prefs}
			received++
		}
		if received > 0 {
			stored := current
			s.latest.Store(&stored)
			if received > 1 {
				s.logger.Debug("collapsed preference backlog", "received", received, "version", current.Version)
			}
			for _, w := range waiters {
				w.reply <- current
			}
			waiters = waiters[:0]
			s.pending.Store(0)
			if s.onUpdate != nil {
				s.onUpdate(current)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.feed.ready:
		case req := <-s.requests:
			if current.Version > req.after {
				req.reply <- current
				continue
			}
			waiters = append(dropAbandoned(waiters), req)
			s.pending.Store(int32(len(waiters)))
		}
	}
}

// Latest returns the newest snapshot without waiting.
func (s *Synchronizer) Latest() Snapshot {
	if latest := s.latest.Load(); latest != nil {
		return *latest
	}
	return Snapshot{}
}

// Waiting reports how many Await callers the drain goroutine is holding.
func (s *Synchronizer) Waiting() int {
	return int(s.pending.Load())
}

// Await waits at most timeout for a snapshot newer than after. On timeout it
// returns Latest(), which is fresh only if it still beat after; the caller
// carries on with what it has. An error is returned only when ctx is done.
func (s *Synchronizer) Await(ctx context.Context, after uint64, timeout time.Duration) (Snapshot, bool, error) {
	if latest := s.Latest(); latest.Version > after {
		return latest, true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	reply := make(chan Snapshot, 1)
	gone := make(chan struct{})
	defer close(gone)
	select {
	case s.requests <- awaitRequest{after: after, reply: reply, gone: gone}:
	case <-timer.C:
		return s.settle(after)
	case <-ctx.Done():
		snap, fresh, _ := s.settle(after)
		return snap, fresh, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, true, nil
	case <-timer.C:
		return s.settle(after)
	case <-ctx.Done():
		snap, fresh, _ := s.settle(after)
		return snap, fresh, ctx.Err()
	}
}

func dropAbandoned(waiters []awaitRequest) []awaitRequest {
	kept := waiters[:0]
	for _, w := range waiters {
		select {
		case <-w.gone:
		default:
			kept = append(kept, w)
		}
	}
	return kept
}

// settle picks up a snapshot that may have landed just as the wait expired.
func (s *Synchronizer) settle(after uint64) (Snapshot, bool, error) {
	latest := s.Latest()
	return latest, latest.Version > after, nil
}
