package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.GatewayRequestDuration == nil {
		t.Error("GatewayRequestDuration is nil")
	}
	if m.TaskDuration == nil {
		t.Error("TaskDuration is nil")
	}
	if m.BackendCallDuration == nil {
		t.Error("BackendCallDuration is nil")
	}
	if m.BackendCallErrors == nil {
		t.Error("BackendCallErrors is nil")
	}
	if m.ActiveSessions == nil {
		t.Error("ActiveSessions is nil")
	}
	if m.DispatchPasses == nil {
		t.Error("DispatchPasses is nil")
	}
	if m.CadenceFires == nil {
		t.Error("CadenceFires is nil")
	}
	if m.FeedbackDeliveries == nil {
		t.Error("FeedbackDeliveries is nil")
	}
	if m.FeedbackDeliveryErrors == nil {
		t.Error("FeedbackDeliveryErrors is nil")
	}
	if m.IntakePollFailures == nil {
		t.Error("IntakePollFailures is nil")
	}
	if m.PushReconnects == nil {
		t.Error("PushReconnects is nil")
	}
	if m.SupervisorAutoPauses == nil {
		t.Error("SupervisorAutoPauses is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter — metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
