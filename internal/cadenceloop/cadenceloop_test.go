package cadenceloop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDrainOnceStopsOnShortPage(t *testing.T) {
	var calls int32
	l := New(Config{
		Limit: 2,
		ListPage: func(ctx context.Context, f Filter, limit int) ([]Packet, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return []Packet{{TaskID: "a"}, {TaskID: "b"}}, nil
			}
			return []Packet{{TaskID: "c"}}, nil
		},
		Claim: func(ctx context.Context, p Packet) error { return nil },
	})
	l.drainOnce(context.Background())
	if calls != 2 {
		t.Fatalf("expected 2 list calls (full page then short page), got %d", calls)
	}
}

func TestTickIsReentrantSafe(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	release := make(chan struct{})

	l := New(Config{
		Limit: 10,
		ListPage: func(ctx context.Context, f Filter, limit int) ([]Packet, error) {
			n := atomic.AddInt32(&inFlight, 1)
			defer atomic.AddInt32(&inFlight, -1)
			if n > atomic.LoadInt32(&maxInFlight) {
				atomic.StoreInt32(&maxInFlight, n)
			}
			<-release
			return nil, nil
		},
		Claim: func(ctx context.Context, p Packet) error { return nil },
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.tick(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	l.tick(context.Background()) // should just set rerunRequested, not run concurrently

	l.mu.Lock()
	rerun := l.rerunRequested
	l.mu.Unlock()
	if !rerun {
		t.Fatalf("expected rerunRequested to be set by the reentrant tick")
	}

	close(release)
	wg.Wait()

	if maxInFlight > 1 {
		t.Fatalf("max in-flight drains = %d, want at most 1", maxInFlight)
	}
}

func TestTriggerNowNeverBlocks(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 5; i++ {
		l.TriggerNow()
	}
}
