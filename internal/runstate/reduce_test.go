package runstate

import (
	"testing"
	"time"

	"github.com/fluxhive/squads/internal/types"
)

func epochMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func sampleEvents() []types.RunEvent {
	return []types.RunEvent{
		{RunID: "r1", Seq: 3, CreatedAt: epochMs(1030), Type: types.RunEventStateDeltaApplied,
			Payload: types.RunEventPayload{Step: "draft", Delta: types.JSONObject{"draft": "hello"}}},
		{RunID: "r1", Seq: 1, CreatedAt: epochMs(1000), Type: types.RunEventStarted,
			Payload: types.RunEventPayload{InitialState: types.JSONObject{"topic": "cats"}}},
		{RunID: "r1", Seq: 2, CreatedAt: epochMs(1010), Type: types.RunEventStepStarted,
			Payload: types.RunEventPayload{Step: "draft"}},
		{RunID: "r1", Seq: 4, CreatedAt: epochMs(1040), Type: types.RunEventCompleted},
	}
}

// TestReduceScenarioS5 matches spec §8 scenario S5.
func TestReduceScenarioS5(t *testing.T) {
	initial := types.RunState{RunID: "r1", StateVersion: 0, Status: types.RunStatusPending, Data: types.JSONObject{}}
	final := Reduce(initial, sampleEvents())

	if final.Status != types.RunStatusCompleted {
		t.Fatalf("status = %v, want completed", final.Status)
	}
	if final.CurrentStep != "draft" {
		t.Fatalf("currentStep = %q, want draft", final.CurrentStep)
	}
	if final.Data["topic"] != "cats" || final.Data["draft"] != "hello" {
		t.Fatalf("data = %#v", final.Data)
	}
	if final.CompletedAt == nil || !final.CompletedAt.Equal(epochMs(1040)) {
		t.Fatalf("completedAt = %v, want 1040", final.CompletedAt)
	}
}

// TestReduceDeterministic checks property #6: any permutation of events
// with unique Seq reduces to the same result as the sorted order.
func TestReduceDeterministic(t *testing.T) {
	base := sampleEvents()
	perms := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}
	initial := types.RunState{RunID: "r1", Data: types.JSONObject{}}
	want := Reduce(initial, base)

	for _, order := range perms {
		permuted := make([]types.RunEvent, len(order))
		for i, idx := range order {
			permuted[i] = base[idx]
		}
		got := Reduce(initial, permuted)
		if got.Status != want.Status || got.CurrentStep != want.CurrentStep || got.Error != want.Error {
			t.Fatalf("permutation %v diverged: got %#v, want %#v", order, got, want)
		}
		if got.Data["topic"] != want.Data["topic"] || got.Data["draft"] != want.Data["draft"] {
			t.Fatalf("permutation %v data diverged: %#v vs %#v", order, got.Data, want.Data)
		}
	}
}

func TestReduceUnknownEventIsNoop(t *testing.T) {
	initial := types.RunState{RunID: "r1", Status: types.RunStatusRunning, Data: types.JSONObject{}}
	events := []types.RunEvent{
		{Seq: 1, CreatedAt: epochMs(10), Type: "some_future_event", Payload: types.RunEventPayload{Step: "x"}},
	}
	got := Reduce(initial, events)
	if got.Status != types.RunStatusRunning {
		t.Fatalf("unknown event mutated status: %v", got.Status)
	}
	if got.CurrentStep != "" {
		t.Fatalf("unknown event mutated currentStep: %v", got.CurrentStep)
	}
	if !got.UpdatedAt.Equal(epochMs(10)) {
		t.Fatalf("updatedAt not bumped by unknown event: %v", got.UpdatedAt)
	}
}

func TestReducePauseResume(t *testing.T) {
	initial := types.RunState{Status: types.RunStatusRunning, Data: types.JSONObject{}}
	events := []types.RunEvent{
		{Seq: 1, CreatedAt: epochMs(1), Type: types.RunEventPaused},
		{Seq: 2, CreatedAt: epochMs(2), Type: types.RunEventResumed},
	}
	got := Reduce(initial, events)
	if got.Status != types.RunStatusRunning {
		t.Fatalf("status after resume = %v, want running", got.Status)
	}
}

func TestReduceStepFailed(t *testing.T) {
	initial := types.RunState{Status: types.RunStatusRunning, Data: types.JSONObject{}}
	events := []types.RunEvent{
		{Seq: 1, CreatedAt: epochMs(1), Type: types.RunEventStepFailed,
			Payload: types.RunEventPayload{Step: "build", Error: "boom"}},
	}
	got := Reduce(initial, events)
	if got.Status != types.RunStatusFailed || got.CurrentStep != "build" || got.Error != "boom" {
		t.Fatalf("got %#v", got)
	}
}

func TestDeepMergeAssociative(t *testing.T) {
	a := types.JSONObject{"x": types.JSONObject{"a": 1, "b": 2}}
	b := types.JSONObject{"x": types.JSONObject{"b": 3, "c": 4}}
	c := types.JSONObject{"x": types.JSONObject{"c": 5, "d": 6}, "y": 1}

	left := DeepMerge(DeepMerge(a, b), c)
	right := DeepMerge(a, DeepMerge(b, c))

	leftX := left["x"].(types.JSONObject)
	rightX := right["x"].(types.JSONObject)
	for _, k := range []string{"a", "b", "c", "d"} {
		if leftX[k] != rightX[k] {
			t.Fatalf("key %q diverged: left=%v right=%v", k, leftX[k], rightX[k])
		}
	}
	if left["y"] != right["y"] {
		t.Fatalf("y diverged: left=%v right=%v", left["y"], right["y"])
	}
}

func TestDeepMergeArraysAndPrimitivesReplace(t *testing.T) {
	a := types.JSONObject{"tags": []any{"a", "b"}, "n": 1}
	b := types.JSONObject{"tags": []any{"c"}, "n": 2}
	got := DeepMerge(a, b)
	tags := got["tags"].([]any)
	if len(tags) != 1 || tags[0] != "c" {
		t.Fatalf("tags = %v, want [c]", tags)
	}
	if got["n"] != 2 {
		t.Fatalf("n = %v, want 2", got["n"])
	}
}

func TestDeepMergeNilLeftReplacedByRight(t *testing.T) {
	got := DeepMerge(nil, types.JSONObject{"a": 1})
	if got["a"] != 1 {
		t.Fatalf("got %#v", got)
	}
}
