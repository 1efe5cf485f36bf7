package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/AFFWORLDT/ChicCOMET-sub001"

// Counter is a nil-safe wrapper around an otel counter. Registration failures degrade to a no-op.
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter registers a counter on meter, or on the global provider when meter is nil.
func NewCounter(meter metric.Meter, name, description string) Counter {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return Counter{}
	}
	return Counter{counter: counter}
}

// Inc adds one with the supplied string attributes given as key/value pairs.
func (c Counter) Inc(ctx context.Context, kv ...string) {
	if c.counter == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
