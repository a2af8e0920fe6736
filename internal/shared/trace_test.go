package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultPlaceholder(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected \"-\", got %q", got)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	if got := TraceID(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}
}

func TestNewTraceID_NotEmpty(t *testing.T) {
	if NewTraceID() == "" {
		t.Fatal("expected non-empty trace id")
	}
}

func TestTaskID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := TaskID(ctx); got != "-" {
		t.Fatalf("expected \"-\", got %q", got)
	}
	ctx = WithTaskID(ctx, "task-1")
	if got := TaskID(ctx); got != "task-1" {
		t.Fatalf("expected task-1, got %q", got)
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := SessionID(ctx); got != "-" {
		t.Fatalf("expected \"-\", got %q", got)
	}
	ctx = WithSessionID(ctx, "sess-1")
	if got := SessionID(ctx); got != "sess-1" {
		t.Fatalf("expected sess-1, got %q", got)
	}
}
