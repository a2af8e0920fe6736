// Package supervisor implements the reactive dispatch loop: it reacts to
// the store's live ready-tasks subscription and dispatches eligible tasks
// through the executor while enforcing a work-in-progress cap, review-queue
// backpressure, and a rolling-window auto-pause on repeated failures.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fluxhive/squads/internal/types"
)

const (
	defaultMaxConcurrent      = 4
	defaultMaxPendingReview   = 5
	defaultAutoPauseThreshold = 5
	defaultHeartbeatInterval  = 60 * time.Second
	failureWindow             = 30 * time.Minute
	failureLogHardCap         = 5000
)

// DispatchResult is what a dispatched task resolves to: whether the
// executor considers the attempt ok, for failure-log bookkeeping.
type DispatchResult struct {
	TaskID string
	OK     bool
	Err    error
}

// Config wires the Supervisor to its collaborators. All store interactions
// are plain functions so tests can inject fakes without a network or the
// storeclient's websocket transport.
type Config struct {
	// ReadyTasks is the single channel the supervisor reads ready-task
	// snapshots from, modeling the store's onUpdate("ready-tasks", ...)
	// pull-subscribe relationship as a channel with one reader goroutine
	// (spec §9 design note).
	ReadyTasks <-chan []types.Task

	// GetReadyTasks performs a synchronous tasks.getReady query, used by
	// ProcessReadyTasks (CLI/test one-shot sweep) and whenever the
	// supervisor needs to requery after a dispatch pass.
	GetReadyTasks func(ctx context.Context) ([]types.Task, error)

	// CountByStatus performs tasks.countByStatus.
	CountByStatus func(ctx context.Context) (map[types.TaskStatus]int, error)

	// Dispatch invokes the executor for one task and returns a channel
	// that will receive exactly one DispatchResult.
	Dispatch func(ctx context.Context, task types.Task) <-chan DispatchResult

	// CheckCadences is invoked once per heartbeat tick (the cadence
	// scheduler's checkCadences, spec §4.2).
	CheckCadences func(ctx context.Context)

	// SetAdminValue writes the "supervisorHeartbeat" admin key.
	SetAdminValue func(ctx context.Context, key, value string) error

	MaxConcurrent      int
	MaxPendingReview   int
	AutoPauseThreshold int
	HeartbeatInterval  time.Duration

	Logger *slog.Logger
}

type failureEntry struct {
	taskType string
	at       time.Time
}

// Supervisor is the reactive dispatch loop described in spec §4.1.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu                 sync.Mutex
	running            bool
	paused             bool
	pauseReason        string
	dispatching        bool
	pendingRecheck     bool
	heartbeatRunning   bool
	activeSessions     map[string]struct{}
	pendingDispatch    map[string]struct{}
	failureLog         []failureEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Supervisor, applying spec defaults (SQUAD_MAX_CONCURRENT=4,
// SQUAD_MAX_PENDING_REVIEW=5, SQUAD_AUTO_PAUSE_AFTER_N_FAILS=5) when unset.
func New(cfg Config) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxPendingReview <= 0 {
		cfg.MaxPendingReview = defaultMaxPendingReview
	}
	if cfg.AutoPauseThreshold <= 0 {
		cfg.AutoPauseThreshold = defaultAutoPauseThreshold
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:             cfg,
		logger:          logger,
		activeSessions:  make(map[string]struct{}),
		pendingDispatch: make(map[string]struct{}),
	}
}

// Start is idempotent: it subscribes to ReadyTasks and begins the heartbeat
// ticker. Calling Start twice on an already-running Supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.subscriptionLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(ctx)
	}()
	s.logger.Info("supervisor started",
		"max_concurrent", s.cfg.MaxConcurrent,
		"max_pending_review", s.cfg.MaxPendingReview,
		"auto_pause_threshold", s.cfg.AutoPauseThreshold,
	)
}

// Stop is idempotent: unsubscribes, cancels all active sessions (the
// executor is responsible for the actual SIGTERM), and zeroes the heartbeat
// marker.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("supervisor stopped")
}

func (s *Supervisor) subscriptionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tasks, ok := <-s.cfg.ReadyTasks:
			if !ok {
				return
			}
			s.onReadyTasks(ctx, tasks)
		}
	}
}

// ProcessReadyTasks runs one synchronous dispatch sweep and returns the
// number of tasks dispatched. It is the entry point used by the CLI and by
// tests that don't want to drive the subscription channel.
func (s *Supervisor) ProcessReadyTasks(ctx context.Context) (int, error) {
	tasks, err := s.cfg.GetReadyTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("get ready tasks: %w", err)
	}
	return s.onReadyTasks(ctx, tasks), nil
}

// onReadyTasks implements the dispatch protocol of spec §4.1 steps 1-5.
func (s *Supervisor) onReadyTasks(ctx context.Context, tasks []types.Task) int {
	s.mu.Lock()
	if !s.running || s.paused {
		s.mu.Unlock()
		return 0
	}
	if s.dispatching {
		s.pendingRecheck = true
		s.mu.Unlock()
		return 0
	}
	s.dispatching = true
	s.mu.Unlock()

	dispatched := s.dispatchPass(ctx, tasks)

	s.mu.Lock()
	recheck := s.pendingRecheck
	s.pendingRecheck = false
	s.dispatching = false
	s.mu.Unlock()

	if recheck {
		more, err := s.cfg.GetReadyTasks(ctx)
		if err != nil {
			s.logger.Error("supervisor: requery after pending recheck failed", "error", err)
			return dispatched
		}
		dispatched += s.onReadyTasks(ctx, more)
	}
	return dispatched
}

// dispatchPass applies the WIP cap, review backpressure, and auto-pause
// guards over tasks, in the order given. It does not itself clear the
// dispatching/pendingRecheck flags — the caller (onReadyTasks) owns those.
func (s *Supervisor) dispatchPass(ctx context.Context, tasks []types.Task) int {
	counts, err := s.cfg.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("supervisor: countByStatus failed", "error", err)
		return 0
	}
	if counts[types.TaskStatusReview] >= s.cfg.MaxPendingReview {
		s.pause(fmt.Sprintf("review queue full (%d pending)", counts[types.TaskStatusReview]))
		return 0
	}

	dispatched := 0
	for _, task := range tasks {
		s.mu.Lock()
		_, inPending := s.pendingDispatch[task.ID]
		_, inActive := s.activeSessions[task.ID]
		if inPending || inActive {
			s.mu.Unlock()
			continue
		}
		if len(s.activeSessions) >= s.cfg.MaxConcurrent {
			s.mu.Unlock()
			break
		}
		recentFails := s.countRecentFailures(task.Type)
		if recentFails >= s.cfg.AutoPauseThreshold {
			s.mu.Unlock()
			s.pause(fmt.Sprintf("%s: %d failures in 30 min", task.Type, recentFails))
			break
		}
		s.pendingDispatch[task.ID] = struct{}{}
		s.mu.Unlock()

		s.launch(ctx, task)
		dispatched++
	}
	return dispatched
}

// launch invokes the executor for one task and, once it resolves, folds the
// result into the failure log and (if still running and unpaused) triggers
// a fresh dispatch pass — this is how a freed WIP slot picks up the next
// ready task without waiting for the next subscription push.
func (s *Supervisor) launch(ctx context.Context, task types.Task) {
	resultCh := s.cfg.Dispatch(ctx, task)

	s.mu.Lock()
	delete(s.pendingDispatch, task.ID)
	s.activeSessions[task.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result := <-resultCh

		s.mu.Lock()
		delete(s.activeSessions, result.TaskID)
		if !result.OK {
			s.appendFailureLocked(task.Type)
		}
		running := s.running
		paused := s.paused
		s.mu.Unlock()

		if running && !paused {
			more, err := s.cfg.GetReadyTasks(ctx)
			if err != nil {
				s.logger.Error("supervisor: requery after completion failed", "error", err)
				return
			}
			s.onReadyTasks(ctx, more)
		}
	}()
}

// countRecentFailures counts failure-log entries matching taskType within
// the last 30 minutes. Callers must hold s.mu.
func (s *Supervisor) countRecentFailures(taskType string) int {
	cutoff := time.Now().Add(-failureWindow)
	count := 0
	for _, e := range s.failureLog {
		if e.taskType == taskType && e.at.After(cutoff) {
			count++
		}
	}
	return count
}

// appendFailureLocked appends to the failure log ring, evicting entries
// older than 30 minutes and enforcing the hard cap. Callers must hold s.mu.
func (s *Supervisor) appendFailureLocked(taskType string) {
	now := time.Now()
	s.failureLog = append(s.failureLog, failureEntry{taskType: taskType, at: now})

	cutoff := now.Add(-failureWindow)
	kept := s.failureLog[:0]
	for _, e := range s.failureLog {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.failureLog = kept

	if len(s.failureLog) > failureLogHardCap {
		s.failureLog = s.failureLog[len(s.failureLog)-failureLogHardCap:]
	}
}

// pause transitions the supervisor into a paused state with reason. Pausing
// is idempotent and does not clobber an existing reason with a duplicate
// auto-pause cause.
func (s *Supervisor) pause(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.pauseReason = reason
	s.logger.Warn("supervisor paused", "reason", reason)
}

// IsPaused reports whether the supervisor is currently paused, and why.
func (s *Supervisor) IsPaused() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.pauseReason
}

// ActiveSessionCount returns the current size of the in-flight WIP set.
func (s *Supervisor) ActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeSessions)
}
