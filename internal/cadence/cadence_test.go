package cadence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fluxhive/squads/internal/types"
)

func TestToMillisConversionTable(t *testing.T) {
	cases := []struct {
		unit types.CadenceUnit
		want int64
	}{
		{types.CadenceUnitMinutes, 60_000},
		{types.CadenceUnitHours, 3_600_000},
		{types.CadenceUnitDays, 86_400_000},
		{types.CadenceUnitWeeks, 604_800_000},
		{types.CadenceUnitMonths, 2_592_000_000},
	}
	for _, tc := range cases {
		got, ok := ToMillis(types.Cadence{Every: 1, Unit: tc.unit})
		if !ok || got != tc.want {
			t.Errorf("ToMillis(1, %q) = %d, %v; want %d, true", tc.unit, got, ok, tc.want)
		}
	}
	if _, ok := ToMillis(types.Cadence{Every: 0, Unit: types.CadenceUnitMinutes}); ok {
		t.Error("non-positive Every should be invalid")
	}
	if _, ok := ToMillis(types.Cadence{Every: 1, Unit: "fortnights"}); ok {
		t.Error("unknown unit should be invalid")
	}
}

type fakeMarkers struct {
	kv    map[string]string
	admin map[string]string
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{kv: map[string]string{}, admin: map[string]string{}}
}

func (f *fakeMarkers) GetMemoryKV(ctx context.Context, scope, namespace, key string) (string, bool, error) {
	v, ok := f.kv[scope+"/"+namespace+"/"+key]
	return v, ok, nil
}
func (f *fakeMarkers) UpsertMemoryKV(ctx context.Context, scope, namespace, key, value string) error {
	f.kv[scope+"/"+namespace+"/"+key] = value
	return nil
}
func (f *fakeMarkers) GetAdminValue(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.admin[key]
	return v, ok, nil
}
func (f *fakeMarkers) SetAdminValue(ctx context.Context, key, value string) error {
	f.admin[key] = value
	return nil
}

func TestCheckCadencesFiresWhenDueAndSkipsWhenNot(t *testing.T) {
	markers := newFakeMarkers()
	var created []string
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cadenceJSON, _ := json.Marshal([]types.CadenceEntry{
		{Name: "daily", PlaybookSlug: "sync", Schedule: types.Cadence{Every: 1, Unit: types.CadenceUnitDays}},
	})

	sched := New(Scheduler{
		ListStreams: func(ctx context.Context) ([]types.Stream, error) {
			return []types.Stream{{ID: "s1", Active: true, CadenceConfigJSON: string(cadenceJSON)}}, nil
		},
		GetPlaybook: func(ctx context.Context, slug, streamID string) (types.Playbook, error) {
			return types.Playbook{Slug: slug, StreamID: streamID, Status: "active"}, nil
		},
		Markers: markers,
		CreateRun: func(ctx context.Context, slug, streamID, threadID, params string) error {
			created = append(created, threadID)
			return nil
		},
		Now: func() time.Time { return fixedNow },
	})

	sched.CheckCadences(context.Background())
	if len(created) != 1 {
		t.Fatalf("expected one run created, got %d", len(created))
	}

	// Marker now present at fixedNow; a re-check within the period must not fire again.
	sched.CheckCadences(context.Background())
	if len(created) != 1 {
		t.Fatalf("expected no additional run before the cadence period elapses, got %d total", len(created))
	}
}

func TestCheckCadencesSkipsInvalidConfigWithoutCrashing(t *testing.T) {
	markers := newFakeMarkers()
	sched := New(Scheduler{
		ListStreams: func(ctx context.Context) ([]types.Stream, error) {
			return []types.Stream{{ID: "s1", Active: true, CadenceConfigJSON: "not json"}}, nil
		},
		GetPlaybook: func(ctx context.Context, slug, streamID string) (types.Playbook, error) {
			t.Fatalf("should not reach playbook lookup for invalid config")
			return types.Playbook{}, nil
		},
		Markers:   markers,
		CreateRun: func(ctx context.Context, slug, streamID, threadID, params string) error { return nil },
	})
	sched.CheckCadences(context.Background())
}

func TestCheckLegacyCronTriggerIndependenceOnFailure(t *testing.T) {
	markers := newFakeMarkers()
	var created []string
	sched := New(Scheduler{
		ListStreams: func(ctx context.Context) ([]types.Stream, error) { return nil, nil },
		GetPlaybook: func(ctx context.Context, slug, streamID string) (types.Playbook, error) {
			if slug == "broken" {
				return types.Playbook{}, context.DeadlineExceeded
			}
			return types.Playbook{Slug: slug, Status: "active"}, nil
		},
		Markers: markers,
		CreateRun: func(ctx context.Context, slug, streamID, threadID, params string) error {
			created = append(created, slug)
			return nil
		},
		ListCronTriggers: func(ctx context.Context) ([]types.PlaybookTrigger, error) {
			return []types.PlaybookTrigger{
				{ID: "t1", PlaybookSlug: "broken", ConfigJSON: `{"schedule":"0 9 * * *"}`},
				{ID: "t2", PlaybookSlug: "ok", ConfigJSON: `{"schedule":"0 9 * * *"}`},
			}, nil
		},
	})

	sched.CheckCadences(context.Background())
	if len(created) != 1 || created[0] != "ok" {
		t.Fatalf("expected only the healthy trigger to fire, got %v", created)
	}
}
