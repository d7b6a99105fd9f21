package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RefreshRateLimitRPM int `env:"REFRESH_RATE_LIMIT_RPM" envDefault:"60"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:authcore.db?_busy_timeout=5000"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"authcore"`
	JWTAudience     string        `env:"JWT_AUDIENCE" envDefault:"clinicops"`
	JWTAccessSecret string        `env:"JWT_ACCESS_SECRET"`
	JWTAccessTTL    time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`

	RefreshTTL              time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	RememberMeRefreshTTL    time.Duration `env:"REMEMBER_ME_REFRESH_TTL" envDefault:"720h"`
	RefreshMaxUsageCount    int           `env:"REFRESH_MAX_USAGE_COUNT" envDefault:"1"`
	RefreshMaxPerSubject    int           `env:"REFRESH_MAX_PER_SUBJECT" envDefault:"5"`
	RememberMeMaxPerSubject int           `env:"REMEMBER_ME_MAX_PER_SUBJECT" envDefault:"5"`
	ReplayRevokeDescendants bool          `env:"REPLAY_REVOKE_DESCENDANTS" envDefault:"false"`
	AccessDenylistEnabled   bool          `env:"ACCESS_DENYLIST_ENABLED" envDefault:"false"`
	AdminRoles              []string      `env:"ADMIN_ROLES" envSeparator:"," envDefault:"admin,super_admin"`

	CleanupSweepInterval time.Duration `env:"CLEANUP_SWEEP_INTERVAL" envDefault:"1h"`
	CleanupTrimInterval  time.Duration `env:"CLEANUP_TRIM_INTERVAL" envDefault:"24h"`
	CleanupRetention     time.Duration `env:"CLEANUP_RETENTION" envDefault:"0s"`
	CleanupLockTTL       time.Duration `env:"CLEANUP_LOCK_TTL" envDefault:"5m"`

	AuditBufferSize int  `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
	AuditDropIfFull bool `env:"AUDIT_DROP_IF_FULL" envDefault:"true"`

	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"authcore"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT" envDefault:"development"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	OTELTracingEnabled        bool          `env:"OTEL_TRACING_ENABLED" envDefault:"false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"false"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"15s"`
	OTELTraceSamplingRatio    float64       `env:"OTEL_TRACE_SAMPLING_RATIO" envDefault:"1"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	err := loadInto(cfg)
	recordLoadOutcome(context.Background(), cfg.AppEnv, err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadInto(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be at least 32 bytes"))
	}
	switch strings.ToLower(c.DatabaseDriver) {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTAccessTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL must be positive"))
	}
	if c.RefreshTTL <= c.JWTAccessTTL {
		errs = append(errs, errors.New("REFRESH_TTL must exceed JWT_ACCESS_TTL"))
	}
	if c.RememberMeRefreshTTL < c.RefreshTTL {
		errs = append(errs, errors.New("REMEMBER_ME_REFRESH_TTL must not be shorter than REFRESH_TTL"))
	}
	if c.RefreshMaxUsageCount < 1 {
		errs = append(errs, errors.New("REFRESH_MAX_USAGE_COUNT must be at least 1"))
	}
	if c.RefreshMaxPerSubject < 1 || c.RememberMeMaxPerSubject < 1 {
		errs = append(errs, errors.New("per-subject token quotas must be at least 1"))
	}
	if c.CleanupSweepInterval <= 0 || c.CleanupTrimInterval <= 0 {
		errs = append(errs, errors.New("cleanup intervals must be positive"))
	}
	if c.CleanupRetention < 0 {
		errs = append(errs, errors.New("CLEANUP_RETENTION must not be negative"))
	}
	if c.RefreshRateLimitRPM < 0 {
		errs = append(errs, errors.New("REFRESH_RATE_LIMIT_RPM must not be negative"))
	}
	if c.AccessDenylistEnabled && c.RedisAddr == "" {
		errs = append(errs, errors.New("ACCESS_DENYLIST_ENABLED requires REDIS_ADDR"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// TokenPolicy is the injected lifecycle policy consumed by the token services.
type TokenPolicy struct {
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	RememberMeRefreshTTL    time.Duration
	MaxUsageCount           int
	MaxPerSubject           int
	RememberMeMaxPerSubject int
	ReplayRevokeDescendants bool
	CleanupRetention        time.Duration
}

func (c *Config) TokenPolicy() TokenPolicy {
	return TokenPolicy{
		AccessTTL:               c.JWTAccessTTL,
		RefreshTTL:              c.RefreshTTL,
		RememberMeRefreshTTL:    c.RememberMeRefreshTTL,
		MaxUsageCount:           c.RefreshMaxUsageCount,
		MaxPerSubject:           c.RefreshMaxPerSubject,
		RememberMeMaxPerSubject: c.RememberMeMaxPerSubject,
		ReplayRevokeDescendants: c.ReplayRevokeDescendants,
		CleanupRetention:        c.CleanupRetention,
	}
}

// DefaultTokenPolicy mirrors the env defaults.
func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		AccessTTL:               15 * time.Minute,
		RefreshTTL:              7 * 24 * time.Hour,
		RememberMeRefreshTTL:    30 * 24 * time.Hour,
		MaxUsageCount:           1,
		MaxPerSubject:           5,
		RememberMeMaxPerSubject: 5,
	}
}
