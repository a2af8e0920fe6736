package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fluxhive/squads/internal/types"
)

type fakeStore struct {
	mu     sync.Mutex
	counts map[types.TaskStatus]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[types.TaskStatus]int{}}
}

func (f *fakeStore) countByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[types.TaskStatus]int, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) setReviewCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[types.TaskStatusReview] = n
}

func tasksOf(ids ...string) []types.Task {
	out := make([]types.Task, len(ids))
	for i, id := range ids {
		out[i] = types.Task{ID: id, Type: "default"}
	}
	return out
}

// TestWIPCapRespected asserts property: ActiveSessionCount never exceeds
// MaxConcurrent, even when more ready tasks are offered than slots.
func TestWIPCapRespected(t *testing.T) {
	store := newFakeStore()
	hold := make(chan struct{})
	dispatchCount := 0
	var dmu sync.Mutex

	s := New(Config{
		GetReadyTasks: func(ctx context.Context) ([]types.Task, error) {
			return tasksOf("t1", "t2", "t3", "t4", "t5"), nil
		},
		CountByStatus: store.countByStatus,
		Dispatch: func(ctx context.Context, task types.Task) <-chan DispatchResult {
			dmu.Lock()
			dispatchCount++
			dmu.Unlock()
			ch := make(chan DispatchResult, 1)
			go func() {
				<-hold
				ch <- DispatchResult{TaskID: task.ID, OK: true}
			}()
			return ch
		},
		MaxConcurrent:      2,
		MaxPendingReview:   5,
		AutoPauseThreshold: 5,
	})
	s.running = true // allow onReadyTasks without Start's goroutines

	s.ProcessReadyTasks(context.Background())

	if got := s.ActiveSessionCount(); got != 2 {
		t.Fatalf("active sessions = %d, want 2 (WIP cap)", got)
	}
	dmu.Lock()
	got := dispatchCount
	dmu.Unlock()
	if got != 2 {
		t.Fatalf("dispatch calls = %d, want 2", got)
	}
	close(hold)
}

// TestReviewBackpressurePauses asserts: when countByStatus.review >=
// maxPendingReview, the supervisor pauses and dispatches nothing.
func TestReviewBackpressurePauses(t *testing.T) {
	store := newFakeStore()
	store.setReviewCount(5)

	s := New(Config{
		GetReadyTasks: func(ctx context.Context) ([]types.Task, error) {
			return tasksOf("t1"), nil
		},
		CountByStatus: store.countByStatus,
		Dispatch: func(ctx context.Context, task types.Task) <-chan DispatchResult {
			t.Fatalf("dispatch should not be called while review queue is full")
			return nil
		},
		MaxConcurrent:      4,
		MaxPendingReview:   5,
		AutoPauseThreshold: 5,
	})
	s.running = true

	n, err := s.ProcessReadyTasks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("dispatched = %d, want 0", n)
	}
	paused, reason := s.IsPaused()
	if !paused {
		t.Fatalf("expected paused state")
	}
	if reason == "" {
		t.Fatalf("expected a pause reason")
	}
}

// TestAutoPauseOnRepeatedFailures asserts: once a task type accumulates
// autoPauseThreshold failures within the rolling window, the supervisor
// pauses and stops dispatching that type.
func TestAutoPauseOnRepeatedFailures(t *testing.T) {
	store := newFakeStore()
	s := New(Config{
		CountByStatus:      store.countByStatus,
		MaxConcurrent:      10,
		MaxPendingReview:   5,
		AutoPauseThreshold: 3,
	})
	s.running = true

	for i := 0; i < 3; i++ {
		s.mu.Lock()
		s.appendFailureLocked("build")
		s.mu.Unlock()
	}

	s.cfg.GetReadyTasks = func(ctx context.Context) ([]types.Task, error) {
		return []types.Task{{ID: "t-new", Type: "build"}}, nil
	}
	s.cfg.Dispatch = func(ctx context.Context, task types.Task) <-chan DispatchResult {
		t.Fatalf("should not dispatch a type that already hit the auto-pause threshold")
		return nil
	}

	n, err := s.ProcessReadyTasks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("dispatched = %d, want 0", n)
	}
	if paused, _ := s.IsPaused(); !paused {
		t.Fatalf("expected auto-pause after repeated failures")
	}
}

// TestDispatchIdempotentOnReentrantPush asserts: a subscription push that
// arrives while a pass is still in flight does not dispatch the same task
// twice; it is folded into a single pendingRecheck requery instead.
func TestDispatchIdempotentOnReentrantPush(t *testing.T) {
	store := newFakeStore()
	var dmu sync.Mutex
	dispatched := map[string]int{}
	release := make(chan struct{})
	firstCallStarted := make(chan struct{})

	s := New(Config{
		GetReadyTasks: func(ctx context.Context) ([]types.Task, error) {
			return tasksOf("only"), nil
		},
		CountByStatus: store.countByStatus,
		Dispatch: func(ctx context.Context, task types.Task) <-chan DispatchResult {
			dmu.Lock()
			dispatched[task.ID]++
			first := dispatched[task.ID] == 1
			dmu.Unlock()
			if first {
				close(firstCallStarted)
			}
			ch := make(chan DispatchResult, 1)
			go func() {
				<-release
				ch <- DispatchResult{TaskID: task.ID, OK: true}
			}()
			return ch
		},
		MaxConcurrent:      4,
		MaxPendingReview:   5,
		AutoPauseThreshold: 5,
	})
	s.running = true

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.onReadyTasks(context.Background(), tasksOf("only"))
	}()

	<-firstCallStarted
	// Reentrant push while the first pass's dispatch is still resolving.
	s.onReadyTasks(context.Background(), tasksOf("only"))

	close(release)
	wg.Wait()
	time.Sleep(10 * time.Millisecond)

	dmu.Lock()
	count := dispatched["only"]
	dmu.Unlock()
	if count != 1 {
		t.Fatalf("dispatch count for \"only\" = %d, want 1 (idempotent under reentrant push)", count)
	}
}
