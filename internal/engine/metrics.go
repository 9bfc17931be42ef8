package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/telemetry"
)

const engineScopeName = "github.com/roach88/ncflow/engine"

// instruments holds the engine's spans and counters. With telemetry
// disabled the global providers are no-ops.
type instruments struct {
	tracer        trace.Tracer
	transitions   metric.Int64Counter
	duration      metric.Float64Histogram
	notifications metric.Int64Counter
}

func newInstruments() *instruments {
	m := telemetry.Meter(engineScopeName)
	transitions, _ := m.Int64Counter("ncflow.transitions",
		metric.WithDescription("Workflow transitions attempted, by action and outcome"),
	)
	duration, _ := m.Float64Histogram("ncflow.transition.duration",
		metric.WithDescription("Transition duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	notifications, _ := m.Int64Counter("ncflow.notifications",
		metric.WithDescription("Notification deliveries, by type and outcome"),
	)
	return &instruments{
		tracer:        telemetry.Tracer(engineScopeName),
		transitions:   transitions,
		duration:      duration,
		notifications: notifications,
	}
}

// start opens a span for one engine operation.
func (in *instruments) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := in.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

// done ends a transition span and records its outcome in the transition
// counter and histogram.
func (in *instruments) done(ctx context.Context, span trace.Span, start time.Time, action domain.Action, err error) {
	attrs := metric.WithAttributes(
		attribute.String("ncflow.action", string(action)),
		attribute.String("ncflow.outcome", outcomeOf(err)),
	)
	in.transitions.Add(ctx, 1, attrs)
	in.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	in.end(span, err)
}

// end ends the span of a non-transition operation.
func (in *instruments) end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

func (in *instruments) notified(ctx context.Context, typ domain.NotificationType, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	in.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ncflow.notification.type", string(typ)),
		attribute.String("ncflow.outcome", outcome),
	))
}
