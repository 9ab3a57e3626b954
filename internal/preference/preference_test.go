package preference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"audiogene/internal/model"
)

func prefs(current float64) model.Preferences {
	return model.Preferences{"A": {Name: "A", Min: 0, Max: 10, Current: current}}
}

func startSynchronizer(t *testing.T, feed *Feed, onUpdate func(Snapshot)) *Synchronizer {
	t.Helper()
	s, err := NewSynchronizer(SynchronizerConfig{Feed: feed, OnUpdate: onUpdate})
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("run returned %v", err)
		}
	})
	return s
}

func TestFeedIsFIFOAndUnbounded(t *testing.T) {
	feed := NewFeed()
	for i := 0; i < 1000; i++ {
		feed.Publish(prefs(float64(i)))
	}
	if feed.Len() != 1000 {
		t.Fatalf("expected 1000 queued snapshots, got %d", feed.Len())
	}
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		p, err := feed.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if p["A"].Current != float64(i) {
			t.Fatalf("out of order: got %v want %d", p["A"].Current, i)
		}
	}
	if _, ok := feed.TryNext(); ok {
		t.Fatal("expected empty feed")
	}
}

func TestFeedPublishCopiesSnapshot(t *testing.T) {
	feed := NewFeed()
	p := prefs(1)
	feed.Publish(p)
	p["A"] = model.Preference{Name: "A", Current: 9}
	got, _ := feed.TryNext()
	if got["A"].Current != 1 {
		t.Fatalf("feed shares storage with publisher: %v", got["A"].Current)
	}
}

func TestFeedNextHonoursContext(t *testing.T) {
	feed := NewFeed()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := feed.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFeedConcurrentProducers(t *testing.T) {
	feed := NewFeed()
	const producers, per = 8, 100
	var wg sync.WaitGroup
	for w := 0; w < producers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				feed.Publish(prefs(1))
			}
		}()
	}
	received := 0
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for received < producers*per {
		if _, err := feed.Next(ctx); err != nil {
			t.Fatalf("next after %d: %v", received, err)
		}
		received++
	}
	wg.Wait()
}

func TestAwaitReturnsFreshSnapshot(t *testing.T) {
	feed := NewFeed()
	s := startSynchronizer(t, feed, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		feed.Publish(prefs(8))
	}()
	snap, fresh, err := s.Await(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !fresh || snap.Version != 1 || snap.Preferences["A"].Current != 8 {
		t.Fatalf("unexpected snapshot fresh=%v %+v", fresh, snap)
	}
}

func TestAwaitTimesOutWithStaleSnapshot(t *testing.T) {
	feed := NewFeed()
	s := startSynchronizer(t, feed, nil)

	feed.Publish(prefs(3))
	first, fresh, err := s.Await(context.Background(), 0, time.Second)
	if err != nil || !fresh {
		t.Fatalf("first await fresh=%v err=%v", fresh, err)
	}

	start := time.Now()
	snap, fresh, err := s.Await(context.Background(), first.Version, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if fresh {
		t.Fatal("expected stale result without new preferences")
	}
	if snap.Version != first.Version || snap.Preferences["A"].Current != 3 {
		t.Fatalf("expected last snapshot to be reused, got %+v", snap)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond || elapsed > time.Second {
		t.Fatalf("wait not bounded by timeout: %v", elapsed)
	}
}

func TestTimedOutAwaitsAreNotHeld(t *testing.T) {
	s := startSynchronizer(t, NewFeed(), nil)
	for i := 0; i < 50; i++ {
		if _, fresh, err := s.Await(context.Background(), 0, 2*time.Millisecond); err != nil || fresh {
			t.Fatalf("await %d: fresh=%v err=%v", i, fresh, err)
		}
		if n := s.Waiting(); n > 1 {
			t.Fatalf("after %d timed out awaits %d waiters are still held", i+1, n)
		}
	}
}

func TestAwaitIsBoundedWithoutRunningDrain(t *testing.T) {
	s, err := NewSynchronizer(SynchronizerConfig{Feed: NewFeed()})
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	start := time.Now()
	snap, fresh, err := s.Await(context.Background(), 0, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if fresh || snap.Version != 0 || snap.Preferences != nil {
		t.Fatalf("expected empty stale snapshot, got fresh=%v %+v", fresh, snap)
	}
	if time.Since(start) > time.Second {
		t.Fatal("await blocked past its bound")
	}
}

func TestAwaitCancelled(t *testing.T) {
	feed := NewFeed()
	s := startSynchronizer(t, feed, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Await(ctx, 0, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestSynchronizerCollapsesBacklogToLatest(t *testing.T) {
	feed := NewFeed()
	for i := 1; i <= 5; i++ {
		feed.Publish(prefs(float64(i)))
	}
	var updates atomic.Int32
	s := startSynchronizer(t, feed, func(Snapshot) { updates.Add(1) })

	snap, fresh, err := s.Await(context.Background(), 0, time.Second)
	if err != nil || !fresh {
		t.Fatalf("await fresh=%v err=%v", fresh, err)
	}
	deadline := time.Now().Add(time.Second)
	for s.Latest().Version < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	latest := s.Latest()
	if latest.Version != 5 || latest.Preferences["A"].Current != 5 {
		t.Fatalf("expected the newest snapshot to win, got %+v", latest)
	}
	if snap.Version == 0 {
		t.Fatal("expected a delivered version")
	}
	if updates.Load() == 0 {
		t.Fatal("expected update hook to fire")
	}
}

func TestSynchronizerRejectsSecondRun(t *testing.T) {
	feed := NewFeed()
	s := startSynchronizer(t, feed, nil)
	deadline := time.Now().Add(time.Second)
	for !s.running.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected second concurrent run to fail")
	}
}

func TestNewSynchronizerRequiresFeed(t *testing.T) {
	if _, err := NewSynchronizer(SynchronizerConfig{}); err == nil {
		t.Fatal("expected missing feed to fail")
	}
}
