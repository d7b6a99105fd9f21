package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/http/handler"
	"github.com/clinicops/authcore/internal/http/router"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/repository"
	"github.com/clinicops/authcore/internal/security"
	"github.com/clinicops/authcore/internal/service"
)

func ProvideDB(ctx context.Context, cfg *config.Config) (*gorm.DB, func(), error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.DatabaseDriver) {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL)
	default:
		dialector = sqlite.Open(cfg.DatabaseURL)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("database handle: %w", err)
	}
	if strings.EqualFold(cfg.DatabaseDriver, "sqlite") {
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() { _ = sqlDB.Close() }
	if err := sqlDB.PingContext(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repository.Migrate(db.WithContext(ctx)); err != nil {
		cleanup()
		return nil, nil, err
	}
	return db, cleanup, nil
}

// ProvideRedis returns nil when REDIS_ADDR is unset; callers fall back to in-process
// implementations.
func ProvideRedis(cfg *config.Config) (redis.UniversalClient, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() { _ = client.Close() }
}

func ProvideTokenPolicy(cfg *config.Config) config.TokenPolicy {
	return cfg.TokenPolicy()
}

func ProvideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func ProvideAuditDispatcher(cfg *config.Config, logger *slog.Logger) (*observability.AuditDispatcher, func()) {
	d := observability.NewAuditDispatcher(observability.AuditDispatcherConfig{
		BufferSize: cfg.AuditBufferSize,
		DropIfFull: cfg.AuditDropIfFull,
	}, observability.NewLogAuditSink(logger))
	return d, d.Close
}

func ProvideAuditHook(d *observability.AuditDispatcher) observability.AuditHook {
	return observability.MultiAuditSink{observability.SpanAuditSink{}, d}
}

func ProvideAccessDenylist(cfg *config.Config, client redis.UniversalClient) service.AccessDenylist {
	if !cfg.AccessDenylistEnabled || client == nil {
		return service.NewNoopAccessDenylist()
	}
	return service.NewRedisAccessDenylist(client, "")
}

func ProvideJobLocker(client redis.UniversalClient) service.JobLocker {
	if client == nil {
		return service.NewLocalJobLocker()
	}
	return service.NewRedisJobLocker(client, "")
}

func ProvideRoleAuthorizer(cfg *config.Config) *service.RoleAuthorizer {
	return service.NewRoleAuthorizer(cfg.AdminRoles)
}

func ProvideCleanupScheduler(cleanup *service.CleanupService, locker service.JobLocker, cfg *config.Config, logger *slog.Logger) *service.CleanupScheduler {
	return service.NewCleanupScheduler(cleanup, locker, service.CleanupSchedulerConfig{
		SweepInterval: cfg.CleanupSweepInterval,
		TrimInterval:  cfg.CleanupTrimInterval,
		LockTTL:       cfg.CleanupLockTTL,
	}, logger)
}

func ProvideRouter(
	cfg *config.Config,
	db *gorm.DB,
	tokens *handler.TokenHandler,
	sessions *handler.SessionHandler,
	admin *handler.AdminHandler,
	validator service.AccessValidatorInterface,
	authz service.RoleAuthorizerInterface,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		TokenHandler:        tokens,
		SessionHandler:      sessions,
		AdminHandler:        admin,
		Validator:           validator,
		AdminAuthorizer:     authz,
		RefreshRateLimitRPM: cfg.RefreshRateLimitRPM,
		Readiness: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		EnableOTelHTTP: cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	})
}

func ProvideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
