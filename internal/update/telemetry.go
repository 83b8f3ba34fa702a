package update

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "regionline/update"

type telemetry struct {
	tracer   trace.Tracer
	updates  metric.Int64Counter
	failures metric.Int64Counter
}

func newTelemetry(logger *slog.Logger) *telemetry {
	meter := otel.Meter(instrumentation)
	t := &telemetry{tracer: otel.Tracer(instrumentation)}
	var err error
	t.updates, err = meter.Int64Counter("regionline.updates.total",
		metric.WithDescription("Update cycles by outcome"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		logger.Warn("updates counter", "err", err)
		t.updates = noop.Int64Counter{}
	}
	t.failures, err = meter.Int64Counter("regionline.update.failures.total",
		metric.WithDescription("Failed update exchanges"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		logger.Warn("failures counter", "err", err)
		t.failures = noop.Int64Counter{}
	}
	return t
}

func (t *telemetry) record(ctx context.Context, out Outcome) {
	t.updates.Add(ctx, 1, metric.WithAttributes(outcomeKind(out)))
	if out.Err != nil {
		t.failures.Add(ctx, 1)
	}
	trace.SpanFromContext(ctx).SetAttributes(outcomeKind(out))
}
