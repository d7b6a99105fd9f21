package service

import (
	"context"

	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/repository"
)

type TokenServiceInterface interface {
	Issue(ctx context.Context, p domain.Principal, dc domain.DeviceContext) (*domain.TokenPair, error)
	Redeem(ctx context.Context, refreshToken string, dc domain.DeviceContext) (*domain.TokenPair, error)
}

type RevocationServiceInterface interface {
	RevokeOne(ctx context.Context, refreshToken, actorID, reason string) (bool, error)
	RevokeSession(ctx context.Context, subjectID, tokenID, actorID string) (bool, error)
	RevokeAll(ctx context.Context, subjectID, actorID, reason string) (int64, error)
}

type SessionServiceInterface interface {
	ListActiveTokens(ctx context.Context, subjectID string, includeExpired bool, page repository.PageRequest) (repository.PageResult[domain.TokenView], error)
	Stats(ctx context.Context, scope domain.StatsScope) (*domain.TokenStats, error)
}

type CleanupServiceInterface interface {
	ForceCleanup(ctx context.Context) CleanupResult
}

type AccessValidatorInterface interface {
	Validate(ctx context.Context, raw string) ValidationResult
}

type RoleAuthorizerInterface interface {
	Authorize(role string) error
}
