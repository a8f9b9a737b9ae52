package bulkmailer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/lattiq/bulkmailer"

// instruments records per-row outcomes.
type instruments struct {
	sent     metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(cfg MetricsConfig) *instruments {
	var meter metric.Meter = noop.NewMeterProvider().Meter(instrumentationName)
	if cfg.Enabled {
		meter = otel.Meter(instrumentationName)
	}

	ins, err := buildInstruments(meter, cfg.Namespace)
	if err != nil {
		otel.Handle(err)
		ins, _ = buildInstruments(noop.NewMeterProvider().Meter(instrumentationName), cfg.Namespace)
	}
	return ins
}

func buildInstruments(meter metric.Meter, ns string) (*instruments, error) {
	sent, err := meter.Int64Counter(ns+".rows.sent",
		metric.WithDescription("Rows accepted by the provider"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter(ns+".rows.failed",
		metric.WithDescription("Rows that failed to render or send"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(ns+".send.duration",
		metric.WithDescription("Per-row render and send time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &instruments{sent: sent, failed: failed, duration: duration}, nil
}

func (i *instruments) record(ctx context.Context, provider string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if err != nil {
		i.failed.Add(ctx, 1, attrs)
	} else {
		i.sent.Add(ctx, 1, attrs)
	}
	i.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}
