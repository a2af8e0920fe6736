package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all daemon metrics instruments.
type Metrics struct {
	GatewayRequestDuration metric.Float64Histogram
	TaskDuration           metric.Float64Histogram
	BackendCallDuration    metric.Float64Histogram
	BackendCallErrors      metric.Int64Counter
	ActiveSessions         metric.Int64UpDownCounter
	DispatchPasses         metric.Int64Counter
	CadenceFires           metric.Int64Counter
	FeedbackDeliveries     metric.Int64Counter
	FeedbackDeliveryErrors metric.Int64Counter
	IntakePollFailures     metric.Int64Counter
	PushReconnects         metric.Int64Counter
	SupervisorAutoPauses   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.GatewayRequestDuration, err = meter.Float64Histogram("squads.gateway.request.duration",
		metric.WithDescription("Gateway tools.invoke request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("squads.task.duration",
		metric.WithDescription("Task processing duration in seconds, from dispatch to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.BackendCallDuration, err = meter.Float64Histogram("squads.backend.call.duration",
		metric.WithDescription("CLI backend subprocess execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.BackendCallErrors, err = meter.Int64Counter("squads.backend.call.errors",
		metric.WithDescription("CLI backend executions ending in a non-zero exit or abort"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter("squads.supervisor.active_sessions",
		metric.WithDescription("Number of sessions currently dispatched (WIP)"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchPasses, err = meter.Int64Counter("squads.supervisor.dispatch_passes",
		metric.WithDescription("Total supervisor dispatch passes run"),
	)
	if err != nil {
		return nil, err
	}

	m.CadenceFires, err = meter.Int64Counter("squads.cadence.fires",
		metric.WithDescription("Total cadence entries and legacy triggers fired"),
	)
	if err != nil {
		return nil, err
	}

	m.FeedbackDeliveries, err = meter.Int64Counter("squads.feedback.deliveries",
		metric.WithDescription("Total status comments delivered to issue trackers"),
	)
	if err != nil {
		return nil, err
	}

	m.FeedbackDeliveryErrors, err = meter.Int64Counter("squads.feedback.delivery_errors",
		metric.WithDescription("Total status comment delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	m.IntakePollFailures, err = meter.Int64Counter("squads.intake.poll_failures",
		metric.WithDescription("Total integration poll failures"),
	)
	if err != nil {
		return nil, err
	}

	m.PushReconnects, err = meter.Int64Counter("squads.push.reconnects",
		metric.WithDescription("Total push client reconnect attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.SupervisorAutoPauses, err = meter.Int64Counter("squads.supervisor.auto_pauses",
		metric.WithDescription("Total times the supervisor auto-paused dispatch"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
