// Package intake implements the intake worker: a periodic poller of every
// enabled integration, dispatching each to a type-matched adapter and
// ingesting whatever new items the adapter discovers into the store.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fluxhive/squads/internal/types"
)

// Client is the subset of the store the intake worker needs.
type Client interface {
	ListIntegrations(ctx context.Context) ([]types.Integration, error)
	IngestIntakeEvent(ctx context.Context, args IngestArgs) (string, error)
	RouteAgentic(ctx context.Context, eventID string) error
	UpdateIntegration(ctx context.Context, id string, intakeCursor, lastError *string) error
}

// IngestArgs mirrors storeclient.IngestIntakeEventArgs without importing
// the storeclient package, keeping intake decoupled from the transport.
type IngestArgs struct {
	IntegrationID string
	ResourceType  string
	ResourceID    string
	Payload       string
	AutoRoute     bool
}

// Adapter polls one integration type (e.g. "github") for new items.
type Adapter interface {
	// PollIntegration returns the items discovered since the integration's
	// current cursor, and the cursor value to persist afterward. It must
	// not itself call the store; the worker does the ingest/route/persist
	// sequence uniformly across adapters.
	PollIntegration(ctx context.Context, integ types.Integration) (PollResult, error)
}

// PollResult is one adapter poll's outcome.
type PollResult struct {
	Items     []DiscoveredItem
	NewCursor string
}

// DiscoveredItem is one not-yet-ingested external item.
type DiscoveredItem struct {
	ResourceType string
	ResourceID   string
	PayloadJSON  string
}

// Config configures a Worker.
type Config struct {
	Store           Client
	Adapters        map[string]Adapter
	PollEveryMs     int
	PollConcurrency int
	PollTimeoutMs   int
	MaxBackoffMs    int
	Logger          *slog.Logger
}

// Worker is the intake worker of spec §4.3.
type Worker struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	failures int
}

// New builds a Worker, applying defaults: pollEveryMs=60000,
// pollConcurrency=4, pollTimeoutMs=30000, maxBackoffMs=15*pollEveryMs.
func New(cfg Config) *Worker {
	if cfg.PollEveryMs <= 0 {
		cfg.PollEveryMs = 60_000
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = 4
	}
	if cfg.PollTimeoutMs <= 0 {
		cfg.PollTimeoutMs = 30_000
	}
	if cfg.MaxBackoffMs <= 0 {
		cfg.MaxBackoffMs = 15 * cfg.PollEveryMs
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{cfg: cfg, logger: logger}
}

// Run loops forever, sleeping per the backoff-aware deadline, until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		deadline := w.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(deadline)):
		}
	}
}

// PollOnce polls every enabled integration (up to PollConcurrency at a
// time) and returns the next poll deadline, folding in the worker-level
// backoff.
func (w *Worker) PollOnce(ctx context.Context) time.Time {
	integrations, err := w.cfg.Store.ListIntegrations(ctx)
	if err != nil {
		return w.onFailure(err)
	}

	sem := make(chan struct{}, w.cfg.PollConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var anyErr error

	for _, integ := range integrations {
		if !integ.Enabled {
			continue
		}
		integ := integ
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.pollIntegration(ctx, integ); err != nil {
				mu.Lock()
				anyErr = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if anyErr != nil {
		return w.onFailure(anyErr)
	}
	w.mu.Lock()
	w.failures = 0
	w.mu.Unlock()
	return time.Now().Add(time.Duration(w.cfg.PollEveryMs) * time.Millisecond)
}

func (w *Worker) onFailure(err error) time.Time {
	w.mu.Lock()
	w.failures++
	failures := w.failures
	w.mu.Unlock()

	backoff := time.Duration(w.cfg.PollEveryMs) * time.Millisecond
	for i := 1; i < failures; i++ {
		backoff *= 2
	}
	maxBackoff := time.Duration(w.cfg.MaxBackoffMs) * time.Millisecond
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Now().Add(backoff)
}

func (w *Worker) pollIntegration(ctx context.Context, integ types.Integration) error {
	adapter, ok := w.cfg.Adapters[integ.Type]
	if !ok {
		return nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.PollTimeoutMs)*time.Millisecond)
	defer cancel()

	result, err := adapter.PollIntegration(pollCtx, integ)
	if err != nil {
		msg := fmt.Sprintf("poll failed: %v", err)
		if pollCtx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("… timed out after %d ms", w.cfg.PollTimeoutMs)
		}
		_ = w.cfg.Store.UpdateIntegration(ctx, integ.ID, nil, &msg)
		return fmt.Errorf("integration %s: %w", integ.ID, err)
	}

	for _, item := range result.Items {
		eventID, err := w.cfg.Store.IngestIntakeEvent(ctx, IngestArgs{
			IntegrationID: integ.ID,
			ResourceType:  item.ResourceType,
			ResourceID:    item.ResourceID,
			Payload:       item.PayloadJSON,
			AutoRoute:     false,
		})
		if err != nil {
			w.logger.Error("intake: ingest failed", "integration_id", integ.ID, "resource_id", item.ResourceID, "error", err)
			continue
		}
		if err := w.cfg.Store.RouteAgentic(ctx, eventID); err != nil {
			w.logger.Error("intake: route failed", "event_id", eventID, "error", err)
		}
	}

	if result.NewCursor != "" {
		cursor := result.NewCursor
		if err := w.cfg.Store.UpdateIntegration(ctx, integ.ID, &cursor, nil); err != nil {
			w.logger.Error("intake: cursor persist failed", "integration_id", integ.ID, "error", err)
		}
	}
	return nil
}
