package preference

import (
	"context"
	"sync"

	"audiogene/internal/model"
)

// Feed is an unbounded multi-producer, single-consumer queue of preference
// snapshots. Publish never blocks.
type Feed struct {
	mu    sync.Mutex
	items []model.Preferences
	ready chan struct{}
}

func NewFeed() *Feed {
	return &Feed{ready: make(chan struct{}, 1)}
}

// Publish enqueues a copy of p.
func (f *Feed) Publish(p model.Preferences) {
	f.mu.Lock()
	f.items = append(f.items, p.Clone())
	f.mu.Unlock()

	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// TryNext pops the oldest snapshot without waiting.
func (f *Feed) TryNext() (model.Preferences, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == 0 {
		return nil, false
	}
	p := f.items[0]
	f.items[0] = nil
	f.items = f.items[1:]
	return p, true
}

// Next blocks until a snapshot is available or ctx is done.
func (f *Feed) Next(ctx context.Context) (model.Preferences, error) {
	for {
		if p, ok := f.TryNext(); ok {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.ready:
		}
	}
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
