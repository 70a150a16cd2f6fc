package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/born-ml/cvgraph"

// Tracer returns the tracer used for pass spans. Without a configured
// provider the global no-op tracer is returned.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the meter used for pass instruments.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
