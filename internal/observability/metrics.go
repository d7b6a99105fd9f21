package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clinicops/authcore/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "authcore"

type AppMetrics struct {
	tokenIssuedCounter      metric.Int64Counter
	tokenRotationCounter    metric.Int64Counter
	tokenRevokedCounter     metric.Int64Counter
	cleanupRunCounter       metric.Int64Counter
	cleanupRemovedCounter   metric.Int64Counter
	accessValidationCounter metric.Int64Counter
	repositoryOpCounter     metric.Int64Counter
	auditDroppedCounter     metric.Int64Counter
	rateLimitCounter        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	m := &AppMetrics{}
	instruments := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.token.issued", &m.tokenIssuedCounter},
		{"auth.token.rotation", &m.tokenRotationCounter},
		{"auth.token.revoked", &m.tokenRevokedCounter},
		{"auth.token.cleanup.runs", &m.cleanupRunCounter},
		{"auth.token.cleanup.removed", &m.cleanupRemovedCounter},
		{"auth.access.validation", &m.accessValidationCounter},
		{"repository.operations", &m.repositoryOpCounter},
		{"audit.events.dropped", &m.auditDroppedCounter},
		{"http.rate_limit.decisions", &m.rateLimitCounter},
	}
	for _, inst := range instruments {
		c, err := meter.Int64Counter(inst.name)
		if err != nil {
			return nil, err
		}
		*inst.dst = c
	}
	return m, nil
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordTokenIssued(ctx context.Context, rememberMe bool) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.tokenIssuedCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("remember_me", rememberMe)))
}

func RecordTokenRotation(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.tokenRotationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordTokenRevoked(ctx context.Context, reason string, count int64) {
	m := currentMetrics()
	if m == nil || count <= 0 {
		return
	}
	m.tokenRevokedCounter.Add(ctx, count, metric.WithAttributes(attribute.String("reason", reason)))
}

func RecordCleanupRun(ctx context.Context, job, outcome string, removed int64) {
	m := currentMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("job", job), attribute.String("outcome", outcome))
	m.cleanupRunCounter.Add(ctx, 1, attrs)
	if removed > 0 {
		m.cleanupRemovedCounter.Add(ctx, removed, metric.WithAttributes(attribute.String("job", job)))
	}
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.accessValidationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordAuditDropped(ctx context.Context) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.auditDroppedCounter.Add(ctx, 1)
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}
