//go:build wireinject
// +build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/clinicops/authcore/internal/app"
	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/http/handler"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/repository"
	"github.com/clinicops/authcore/internal/service"
)

var storeSet = wire.NewSet(
	ProvideDB,
	ProvideRedis,
	repository.NewRefreshTokenRepository,
)

var serviceSet = wire.NewSet(
	ProvideTokenPolicy,
	ProvideJWTManager,
	ProvideAuditDispatcher,
	ProvideAuditHook,
	ProvideAccessDenylist,
	ProvideJobLocker,
	ProvideRoleAuthorizer,
	service.NewQuotaEnforcer,
	service.NewTokenService,
	service.NewRevocationService,
	service.NewSessionService,
	service.NewCleanupService,
	service.NewAccessValidator,
	ProvideCleanupScheduler,
	wire.Bind(new(service.TokenServiceInterface), new(*service.TokenService)),
	wire.Bind(new(service.RevocationServiceInterface), new(*service.RevocationService)),
	wire.Bind(new(service.SessionServiceInterface), new(*service.SessionService)),
	wire.Bind(new(service.CleanupServiceInterface), new(*service.CleanupService)),
	wire.Bind(new(service.AccessValidatorInterface), new(*service.AccessValidator)),
	wire.Bind(new(service.RoleAuthorizerInterface), new(*service.RoleAuthorizer)),
)

var httpSet = wire.NewSet(
	handler.NewTokenHandler,
	handler.NewSessionHandler,
	handler.NewAdminHandler,
	ProvideRouter,
	ProvideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.App, func(), error) {
	wire.Build(storeSet, serviceSet, httpSet, app.New)
	return nil, nil, nil
}

func InitializeCleanup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service.CleanupService, func(), error) {
	wire.Build(storeSet, serviceSet)
	return nil, nil, nil
}
