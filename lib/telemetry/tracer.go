package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the globally installed provider. Spans
// are no-ops until Setup installs a real provider, so packages can declare
// their tracer at init time.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
