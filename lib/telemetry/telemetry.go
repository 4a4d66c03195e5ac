package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"moodlefetch/lib/configutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

type providers struct {
	tracerProvider *trace.TracerProvider
	meterProvider  *metric.MeterProvider
}

var current providers

// SetupFromEnv searches up the filesystem from the cwd to find a file called
// telemetry.json5, once found it will then use it as a config to setup
// telemetry. A missing file leaves telemetry as a no-op, which is what you
// want when running the CLI outside a collector-equipped environment.
func SetupFromEnv(ctx context.Context, serviceName string) error {
	cfg, err := configutil.ReadRecursively[config]("telemetry.json5")
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no telemetry.json5 found, telemetry disabled")
		return nil
	}
	if err != nil {
		return err
	}
	return Setup(ctx, serviceName, cfg)
}

func Setup(ctx context.Context, serviceName string, cfg config) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	r, err := newResource(serviceName)
	if err != nil {
		return err
	}

	if cfg.Otlp.Traces.GrpcEndpoint != "" || cfg.Otlp.Traces.HttpEndpoint != "" {
		tracerProvider, err := newTraceProvider(ctx, r, cfg)
		if err != nil {
			return err
		}
		otel.SetTracerProvider(tracerProvider)
		current.tracerProvider = tracerProvider
	}

	if cfg.Otlp.Metrics.GrpcEndpoint != "" || cfg.Otlp.Metrics.HttpEndpoint != "" {
		meterProvider, err := newMetricProvider(ctx, r, cfg)
		if err != nil {
			return err
		}
		otel.SetMeterProvider(meterProvider)
		current.meterProvider = meterProvider
	}

	return nil
}

// Shutdown flushes and stops whichever providers Setup installed.
func Shutdown(ctx context.Context) error {
	var errlist []error
	if current.tracerProvider != nil {
		err := current.tracerProvider.Shutdown(ctx)
		if err != nil {
			errlist = append(errlist, err)
		}
		current.tracerProvider = nil
	}
	if current.meterProvider != nil {
		err := current.meterProvider.Shutdown(ctx)
		if err != nil {
			errlist = append(errlist, err)
		}
		current.meterProvider = nil
	}
	return errors.Join(errlist...)
}

var setupTestEnvironments = map[string]bool{}

// SetupForTesting sets up telemetry in a testing environment, ensuring that it
// isn't set up more than once.
func SetupForTesting(t testing.TB, serviceName string) func() {
	if setupTestEnvironments[serviceName] {
		return func() {}
	}
	setupTestEnvironments[serviceName] = true

	InitSlog(true)
	err := SetupFromEnv(context.Background(), serviceName)
	if err != nil {
		t.Fatal(err)
	}

	return func() {
		err := Shutdown(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}
}
