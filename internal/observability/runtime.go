package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clinicops/authcore/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime owns the otel providers installed for the process. Any field may be nil when
// the matching signal is disabled.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
}

// InitRuntime installs the metric and trace providers. lp is the provider NewLogger
// created, if any; the runtime takes ownership of it.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*Runtime, error) {
	rt := &Runtime{LoggerProvider: lp}
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, err
	}
	rt.MeterProvider = mp
	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, err
	}
	rt.TracerProvider = tp
	return rt, nil
}

// Shutdown flushes traces, then metrics, then logs, so records emitted while the first
// two drain still reach the log exporter.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	type step struct {
		name string
		fn   func(context.Context) error
	}
	var steps []step
	if r.TracerProvider != nil {
		steps = append(steps, step{"tracer provider", r.TracerProvider.Shutdown})
	}
	if r.MeterProvider != nil {
		steps = append(steps, step{"meter provider", r.MeterProvider.Shutdown})
	}
	if r.LoggerProvider != nil {
		steps = append(steps, step{"logger provider", r.LoggerProvider.Shutdown})
	}
	var errs []error
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
