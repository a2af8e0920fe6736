// Package runstate implements the pure, deterministic fold that
// reconstructs a playbook run's RunState from its ordered RunEvent log. It
// has no dependency on the store or any transport: given the same initial
// state and the same set of events, Reduce always produces the same
// result, independent of the order the events were received in (they are
// sorted by Seq before folding).
package runstate

import (
	"sort"

	"github.com/fluxhive/squads/internal/types"
)

// Reduce sorts events by Seq ascending and folds them onto initial,
// returning the resulting RunState. initial is never mutated; Reduce
// returns a new value built up from copies.
func Reduce(initial types.RunState, events []types.RunEvent) types.RunState {
	sorted := make([]types.RunEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	state := initial
	state.Data = cloneObject(initial.Data)

	for _, ev := range sorted {
		state = applyEvent(state, ev)
	}
	return state
}

func applyEvent(state types.RunState, ev types.RunEvent) types.RunState {
	switch ev.Type {
	case types.RunEventStarted:
		state.Status = types.RunStatusRunning
		state.Data = DeepMerge(state.Data, ev.Payload.InitialState)
		state.StateVersion++

	case types.RunEventStepStarted:
		state.CurrentStep = ev.Payload.Step

	case types.RunEventStateDeltaApplied:
		if ev.Payload.Step != "" {
			state.CurrentStep = ev.Payload.Step
		}
		state.Data = DeepMerge(state.Data, ev.Payload.Delta)
		state.StateVersion++

	case types.RunEventStepCompleted:
		state.CurrentStep = ev.Payload.Step

	case types.RunEventStepFailed:
		state.Status = types.RunStatusFailed
		state.CurrentStep = ev.Payload.Step
		state.Error = ev.Payload.Error

	case types.RunEventPaused:
		state.Status = types.RunStatusPaused

	case types.RunEventResumed:
		state.Status = types.RunStatusRunning

	case types.RunEventCompleted:
		state.Status = types.RunStatusCompleted
		completedAt := ev.CreatedAt
		state.CompletedAt = &completedAt

	case types.RunEventFailed:
		state.Status = types.RunStatusFailed
		state.Error = ev.Payload.Error

	default:
		// Unknown event kinds are no-ops; the reducer never errors on
		// forward-incompatible event streams.
	}

	state.UpdatedAt = ev.CreatedAt
	return state
}

// DeepMerge recursively merges b onto a: object keys merge key-wise,
// arrays and primitives from b replace a's value, and a nil/absent value on
// the left is replaced outright by b. DeepMerge is associative:
// DeepMerge(a, DeepMerge(b, c)) == DeepMerge(DeepMerge(a, b), c).
func DeepMerge(a, b types.JSONObject) types.JSONObject {
	if a == nil && b == nil {
		return nil
	}
	out := cloneObject(a)
	if out == nil {
		out = types.JSONObject{}
	}
	for k, bv := range b {
		av, exists := out[k]
		if !exists {
			out[k] = cloneValue(bv)
			continue
		}
		aObj, aIsObj := av.(types.JSONObject)
		if !aIsObj {
			if m, ok := av.(map[string]any); ok {
				aObj, aIsObj = types.JSONObject(m), true
			}
		}
		bObj, bIsObj := bv.(types.JSONObject)
		if !bIsObj {
			if m, ok := bv.(map[string]any); ok {
				bObj, bIsObj = types.JSONObject(m), true
			}
		}
		if aIsObj && bIsObj {
			out[k] = DeepMerge(aObj, bObj)
			continue
		}
		// Arrays and primitives: b replaces a.
		out[k] = cloneValue(bv)
	}
	return out
}

func cloneObject(o types.JSONObject) types.JSONObject {
	if o == nil {
		return nil
	}
	out := make(types.JSONObject, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case types.JSONObject:
		return cloneObject(vv)
	case map[string]any:
		return cloneObject(types.JSONObject(vv))
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return vv
	}
}
