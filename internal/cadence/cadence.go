// Package cadence implements the cadence scheduler: on every supervisor
// heartbeat it evaluates each active stream's configured cadences and the
// legacy cron-type playbook triggers, firing runs.create for whichever
// have come due.
package cadence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fluxhive/squads/internal/types"
)

// Unit-to-millisecond table from spec §4.2.
var unitMillis = map[types.CadenceUnit]int64{
	types.CadenceUnitMinutes: 60_000,
	types.CadenceUnitHours:   3_600_000,
	types.CadenceUnitDays:    86_400_000,
	types.CadenceUnitWeeks:   604_800_000,
	types.CadenceUnitMonths:  2_592_000_000,
}

// ToMillis converts a cadence schedule to its period in milliseconds. It
// returns 0, false for an unrecognized unit or a non-positive Every.
func ToMillis(c types.Cadence) (int64, bool) {
	per, ok := unitMillis[c.Unit]
	if !ok || c.Every <= 0 {
		return 0, false
	}
	return per * int64(c.Every), true
}

// StreamLister lists active streams.
type StreamLister func(ctx context.Context) ([]types.Stream, error)

// PlaybookLookup resolves a playbook by slug, preferring a stream-scoped
// definition over a global one.
type PlaybookLookup func(ctx context.Context, slug, streamID string) (types.Playbook, error)

// MarkerStore reads/writes the cadence-marker and legacy-trigger-marker
// memory_kv / admin entries.
type MarkerStore interface {
	GetMemoryKV(ctx context.Context, scope, namespace, key string) (string, bool, error)
	UpsertMemoryKV(ctx context.Context, scope, namespace, key, value string) error
	GetAdminValue(ctx context.Context, key string) (string, bool, error)
	SetAdminValue(ctx context.Context, key, value string) error
}

// RunCreator fires runs.create.
type RunCreator func(ctx context.Context, playbookSlug, streamID, threadID, paramsJSON string) error

// CronTriggerLister lists enabled legacy cron-type triggers.
type CronTriggerLister func(ctx context.Context) ([]types.PlaybookTrigger, error)

// Now returns the current time; overridable in tests.
type Now func() time.Time

// Scheduler is the cadence scheduler of spec §4.2.
type Scheduler struct {
	ListStreams       StreamLister
	GetPlaybook       PlaybookLookup
	Markers           MarkerStore
	CreateRun         RunCreator
	ListCronTriggers  CronTriggerLister
	Now               Now
	Logger            *slog.Logger
}

// New builds a Scheduler, defaulting Now to time.Now and Logger to
// slog.Default.
func New(s Scheduler) *Scheduler {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return &s
}

// CheckCadences evaluates every active stream's configured cadences plus
// the legacy cron-trigger path. A failure for one stream or trigger never
// aborts the others (spec §4.2).
func (s *Scheduler) CheckCadences(ctx context.Context) {
	s.checkStreamCadences(ctx)
	s.checkLegacyCronTriggers(ctx)
}

func (s *Scheduler) checkStreamCadences(ctx context.Context) {
	streams, err := s.ListStreams(ctx)
	if err != nil {
		s.Logger.Error("cadence: list streams failed", "error", err)
		return
	}

	for _, stream := range streams {
		if err := s.checkStream(ctx, stream); err != nil {
			s.Logger.Error("cadence: stream check failed", "stream_id", stream.ID, "error", err)
		}
	}
}

func (s *Scheduler) checkStream(ctx context.Context, stream types.Stream) error {
	if stream.CadenceConfigJSON == "" {
		return nil
	}
	var entries []types.CadenceEntry
	if err := json.Unmarshal([]byte(stream.CadenceConfigJSON), &entries); err != nil {
		// Malformed cadence config degrades to "skip this stream", never
		// crashes the loop.
		s.Logger.Warn("cadence: invalid cadenceConfigJson, skipping", "stream_id", stream.ID, "error", err)
		return nil
	}

	for _, entry := range entries {
		if !entry.IsEnabled() {
			continue
		}
		periodMs, ok := ToMillis(entry.Schedule)
		if !ok {
			continue
		}
		if err := s.fireIfDue(ctx, stream.ID, entry, periodMs); err != nil {
			s.Logger.Error("cadence: fire failed", "stream_id", stream.ID, "name", entry.Name, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) fireIfDue(ctx context.Context, streamID string, entry types.CadenceEntry, periodMs int64) error {
	markerKey := entry.Name
	lastRunStr, found, err := s.Markers.GetMemoryKV(ctx, streamID, "_cadence", markerKey)
	if err != nil {
		return fmt.Errorf("read marker: %w", err)
	}

	now := s.Now().UTC()
	if found {
		lastRun, err := time.Parse(time.RFC3339Nano, lastRunStr)
		if err == nil && now.Sub(lastRun).Milliseconds() < periodMs {
			return nil
		}
	}

	playbook, err := s.GetPlaybook(ctx, entry.PlaybookSlug, streamID)
	if err != nil {
		return fmt.Errorf("lookup playbook %q: %w", entry.PlaybookSlug, err)
	}
	if playbook.Status != "active" {
		return nil
	}

	threadID := fmt.Sprintf("cadence:%s:%s:%d", streamID, entry.Name, now.UnixMilli())
	params, _ := json.Marshal(map[string]string{"cadenceName": entry.Name, "source": "cadence"})
	if err := s.CreateRun(ctx, entry.PlaybookSlug, streamID, threadID, string(params)); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	return s.Markers.UpsertMemoryKV(ctx, streamID, "_cadence", markerKey, now.Format(time.RFC3339Nano))
}

// legacyCronSchedule is the shape of a legacy trigger's configJson.schedule:
// a standard 5-field cron expression, parsed with robfig/cron/v3.
type legacyCronConfig struct {
	Schedule string `json:"schedule"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func (s *Scheduler) checkLegacyCronTriggers(ctx context.Context) {
	if s.ListCronTriggers == nil {
		return
	}
	triggers, err := s.ListCronTriggers(ctx)
	if err != nil {
		s.Logger.Error("cadence: list legacy cron triggers failed", "error", err)
		return
	}

	for _, trig := range triggers {
		if err := s.checkLegacyTrigger(ctx, trig); err != nil {
			s.Logger.Error("cadence: legacy trigger check failed", "trigger_id", trig.ID, "error", err)
		}
	}
}

func (s *Scheduler) checkLegacyTrigger(ctx context.Context, trig types.PlaybookTrigger) error {
	var cfg legacyCronConfig
	if err := json.Unmarshal([]byte(trig.ConfigJSON), &cfg); err != nil || cfg.Schedule == "" {
		s.Logger.Warn("cadence: invalid legacy trigger config, skipping", "trigger_id", trig.ID)
		return nil
	}
	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		s.Logger.Warn("cadence: unparsable legacy cron expression, skipping", "trigger_id", trig.ID, "expr", cfg.Schedule)
		return nil
	}

	markerKey := "last_playbook_trigger_run:" + trig.ID
	lastRunStr, found, err := s.Markers.GetAdminValue(ctx, markerKey)
	if err != nil {
		return fmt.Errorf("read legacy marker: %w", err)
	}

	now := s.Now().UTC()
	if found {
		lastRun, err := time.Parse(time.RFC3339Nano, lastRunStr)
		if err == nil && schedule.Next(lastRun).After(now) {
			return nil
		}
	}

	playbook, err := s.GetPlaybook(ctx, trig.PlaybookSlug, trig.StreamID)
	if err != nil {
		return fmt.Errorf("lookup playbook %q: %w", trig.PlaybookSlug, err)
	}
	if playbook.Status != "active" {
		return nil
	}

	threadID := fmt.Sprintf("cadence:%s:%s:%d", trig.StreamID, trig.ID, now.UnixMilli())
	params, _ := json.Marshal(map[string]string{"cadenceName": trig.ID, "source": "legacy_cron"})
	if err := s.CreateRun(ctx, trig.PlaybookSlug, trig.StreamID, threadID, string(params)); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	return s.Markers.SetAdminValue(ctx, markerKey, now.Format(time.RFC3339Nano))
}
