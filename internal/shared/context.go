// Package shared holds small cross-cutting helpers used by every layer of
// the daemon: correlation-id propagation and secret redaction for logs.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	traceKey contextKey = iota
	taskKey
	sessionKey
)

// WithTraceID attaches a trace_id to the context. The trace_id is propagated
// across store RPCs and executor invocations for a single dispatch so that
// every log line for one task's lifetime can be correlated.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTaskID attaches the task id a goroutine is currently acting on behalf
// of. Used by the executor and feedback worker to build idempotency keys.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey, taskID)
}

// TaskID extracts task_id from context. Returns "-" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskKey).(string); ok && v != "" {
		return v
	}
	return "-"
}

// WithSessionID attaches the owning session id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// SessionID extracts session_id from context. Returns "-" if absent.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok && v != "" {
		return v
	}
	return "-"
}
