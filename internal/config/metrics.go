package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadCounterOnce sync.Once
	loadCounter     metric.Int64Counter
)

// The counter is resolved lazily: Load runs before the meter provider is installed, so
// early loads go to the no-op global meter.
func loadEvents() metric.Int64Counter {
	loadCounterOnce.Do(func() {
		c, err := otel.Meter("authcore/config").Int64Counter("config.validation.events")
		if err == nil {
			loadCounter = c
		}
	})
	return loadCounter
}

func recordLoadOutcome(ctx context.Context, appEnv string, err error) {
	c := loadEvents()
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_env", appEnvLabel(appEnv)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass(err)),
	))
}

func appEnvLabel(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return "unknown"
	}
	return v
}

// errorClass buckets a Load failure by the group of settings that rejected it.
func errorClass(err error) string {
	if err == nil {
		return "none"
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) && len(joined.Unwrap()) > 1 {
		return "multiple"
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "parse env"):
		return "parse"
	case strings.Contains(msg, "JWT_"):
		return "signing"
	case strings.Contains(msg, "DATABASE_"):
		return "store"
	case strings.Contains(msg, "RATE_LIMIT"):
		return "rate_limit"
	case strings.Contains(msg, "REFRESH_"), strings.Contains(msg, "REMEMBER_ME_"), strings.Contains(msg, "quotas"):
		return "token_policy"
	case strings.Contains(msg, "CLEANUP_"), strings.Contains(msg, "cleanup"):
		return "cleanup"
	case strings.Contains(msg, "REDIS_"), strings.Contains(msg, "DENYLIST"):
		return "redis"
	case strings.Contains(msg, "OTEL_"):
		return "telemetry"
	default:
		return "other"
	}
}
