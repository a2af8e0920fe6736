// Package cadenceloop is the runner-side queue drain: a reentrant-safe
// ticker that repeatedly claims and executes todo-status task packets until
// a page comes back short.
package cadenceloop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const minInterval = 1 * time.Second

// Filter narrows which todo tasks a page lists.
type Filter struct {
	StreamID  string
	Backend   string
	CostClass string
}

// Packet is one claimable unit of work in compact/packet format.
type Packet struct {
	TaskID string
}

// PageLister lists up to limit todo-status packets matching filter.
type PageLister func(ctx context.Context, filter Filter, limit int) ([]Packet, error)

// Claimer executes one packet end to end (claimAndExecuteFromPacket).
type Claimer func(ctx context.Context, p Packet) error

// Config configures a Loop.
type Config struct {
	ListPage   PageLister
	Claim      Claimer
	Filter     Filter
	Limit      int
	IntervalMs int
	Logger     *slog.Logger
}

// Loop is the cadence loop of spec §4.6.
type Loop struct {
	cfg      Config
	interval time.Duration
	logger   *slog.Logger

	mu             sync.Mutex
	running        bool
	ticking        bool
	rerunRequested bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}
}

// New builds a Loop. IntervalMs is floored to 1000ms per spec §4.6.
func New(cfg Config) *Loop {
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < minInterval {
		interval = minInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{cfg: cfg, interval: interval, logger: logger, trigger: make(chan struct{}, 1)}
}

// Start begins the periodic tick. Idempotent.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop(ctx)
	}()
}

// Stop clears the interval; Stop causes any in-flight drainOnce to finish
// its current page and not schedule another tick.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

// TriggerNow requests an immediate tick, called by the push client on
// task.available. It never blocks.
func (l *Loop) TriggerNow() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *Loop) loop(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		case <-l.trigger:
			l.tick(ctx)
		}
	}
}

// tick implements the reentrancy guard: if a drain is already running, it
// records rerunRequested and returns without blocking.
func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	if l.ticking {
		l.rerunRequested = true
		l.mu.Unlock()
		return
	}
	l.ticking = true
	l.mu.Unlock()

	l.drainOnce(ctx)

	l.mu.Lock()
	rerun := l.rerunRequested
	l.rerunRequested = false
	l.ticking = false
	l.mu.Unlock()

	if rerun && ctx.Err() == nil {
		l.tick(ctx)
	}
}

// drainOnce repeatedly lists and executes pages of todo packets until a
// short page or the loop stops.
func (l *Loop) drainOnce(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		packets, err := l.cfg.ListPage(ctx, l.cfg.Filter, l.cfg.Limit)
		if err != nil {
			l.logger.Error("cadenceloop: list page failed", "error", err)
			return
		}
		for _, p := range packets {
			if ctx.Err() != nil {
				return
			}
			if err := l.cfg.Claim(ctx, p); err != nil {
				l.logger.Error("cadenceloop: claim/execute failed", "task_id", p.TaskID, "error", err)
			}
		}
		if len(packets) < l.cfg.Limit {
			return
		}
	}
}
