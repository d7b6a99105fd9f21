package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/repository"
	"github.com/clinicops/authcore/internal/security"

	"go.opentelemetry.io/otel/attribute"
)

const tokenTypeBearer = "Bearer"

// TokenService issues token pairs and rotates refresh tokens on redemption.
type TokenService struct {
	jwtMgr   *security.JWTManager
	repo     repository.RefreshTokenRepository
	quota    *QuotaEnforcer
	policy   config.TokenPolicy
	audit    auditor
	now      func() time.Time
	newToken func() (string, error)
}

func NewTokenService(jwtMgr *security.JWTManager, repo repository.RefreshTokenRepository, quota *QuotaEnforcer, policy config.TokenPolicy, hook observability.AuditHook) *TokenService {
	s := &TokenService{
		jwtMgr:   jwtMgr,
		repo:     repo,
		quota:    quota,
		policy:   policy,
		now:      time.Now,
		newToken: security.NewOpaqueToken,
	}
	s.audit = newAuditor(hook, s.clock)
	return s
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *TokenService) clock() time.Time { return s.now() }

// Issue creates a fresh access/refresh pair for p. Quota revocations and the insert
// commit together, so a failed insert leaves the subject's sessions untouched.
func (s *TokenService) Issue(ctx context.Context, p domain.Principal, dc domain.DeviceContext) (*domain.TokenPair, error) {
	ctx, span := observability.StartSpan(ctx, "token.issue",
		attribute.String("subject_id", p.ID),
		attribute.Bool("remember_me", dc.RememberMe))
	defer span.End()

	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Email) == "" || strings.TrimSpace(p.Role) == "" {
		return nil, ErrInvalidPrincipal
	}
	now := s.now().UTC()
	record, err := s.newRecord(p, dc, now)
	if err != nil {
		return nil, err
	}
	pair, err := s.mintPair(p, record)
	if err != nil {
		return nil, err
	}

	var displaced int64
	err = s.repo.WithinTransaction(ctx, func(tx repository.RefreshTokenRepository) error {
		n, err := s.quota.enforceWithin(ctx, tx, p.ID, dc.RememberMe)
		if err != nil {
			return err
		}
		displaced = n
		return tx.Create(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	s.quota.reportQuota(ctx, p.ID, dc.RememberMe, displaced)

	observability.RecordTokenIssued(ctx, dc.RememberMe)
	s.audit.info(ctx, AuditTokenIssued, "refresh token issued", p.ID, map[string]string{
		"token_id":     record.ID,
		"token_prefix": security.TokenPrefix(record.Token),
		"remember_me":  strconv.FormatBool(dc.RememberMe),
		"device_id":    dc.DeviceID,
	})
	return pair, nil
}

// Redeem exchanges an ACTIVE refresh token for a successor pair. The presented token is
// retired by a conditional update, so concurrent redemptions of one token yield exactly
// one success; the rest fail with ErrInvalidRefreshToken.
func (s *TokenService) Redeem(ctx context.Context, refreshToken string, dc domain.DeviceContext) (*domain.TokenPair, error) {
	ctx, span := observability.StartSpan(ctx, "token.redeem")
	defer span.End()

	prefix := security.TokenPrefix(refreshToken)
	if strings.TrimSpace(refreshToken) == "" {
		s.rejectInvalid(ctx, nil, prefix, "empty")
		return nil, ErrInvalidRefreshToken
	}
	current, err := s.repo.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			s.rejectInvalid(ctx, nil, prefix, "unknown")
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("subject_id", current.SubjectID))

	if current.Status != domain.TokenStatusActive {
		s.rejectInvalid(ctx, current, prefix, strings.ToLower(string(current.Status)))
		if current.Status == domain.TokenStatusRotated && s.policy.ReplayRevokeDescendants {
			if err := s.revokeDescendants(ctx, current); err != nil {
				return nil, err
			}
		}
		return nil, ErrInvalidRefreshToken
	}

	now := s.now().UTC()
	if current.IsExpiredAt(now) {
		if _, err := s.repo.TransitionActive(ctx, refreshToken, repository.Transition{
			To:     domain.TokenStatusExpired,
			Actor:  SystemActor,
			Reason: domain.RevokeReasonExpired,
			At:     now,
		}); err != nil {
			return nil, err
		}
		observability.RecordTokenRotation(ctx, "expired")
		s.audit.security(ctx, AuditRefreshExpired, "expired refresh token presented", current.SubjectID, map[string]string{
			"token_id":     current.ID,
			"token_prefix": prefix,
		})
		return nil, ErrRefreshTokenExpired
	}
	if current.UsageCount >= current.MaxUsageCount {
		revoked, err := s.repo.TransitionActive(ctx, refreshToken, repository.Transition{
			To:     domain.TokenStatusRevoked,
			Actor:  SystemActor,
			Reason: domain.RevokeReasonUsageExceeded,
			At:     now,
		})
		if err != nil {
			return nil, err
		}
		if revoked {
			observability.RecordTokenRevoked(ctx, domain.RevokeReasonUsageExceeded, 1)
		}
		observability.RecordTokenRotation(ctx, "usage_exceeded")
		s.audit.security(ctx, AuditRefreshUsageCap, domain.RevokeReasonUsageExceeded, current.SubjectID, map[string]string{
			"token_id":        current.ID,
			"token_prefix":    prefix,
			"usage_count":     strconv.Itoa(current.UsageCount),
			"max_usage_count": strconv.Itoa(current.MaxUsageCount),
		})
		return nil, ErrUsageLimitExceeded
	}

	principal := domain.PrincipalFromToken(current)
	successor, err := s.newRecord(principal, carryForward(current, dc), now)
	if err != nil {
		return nil, err
	}
	pair, err := s.mintPair(principal, successor)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.RotateActive(ctx, refreshToken, now, successor); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			s.rejectInvalid(ctx, current, prefix, "lost_race")
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	observability.RecordTokenRotation(ctx, "success")
	s.audit.info(ctx, AuditRefreshRotated, "refresh token rotated", current.SubjectID, map[string]string{
		"token_id":           current.ID,
		"successor_token_id": successor.ID,
		"token_prefix":       prefix,
	})
	return pair, nil
}

func (s *TokenService) rejectInvalid(ctx context.Context, record *domain.RefreshToken, prefix, cause string) {
	observability.RecordTokenRotation(ctx, "invalid")
	attrs := map[string]string{"token_prefix": prefix, "cause": cause}
	subjectID := ""
	if record != nil {
		subjectID = record.SubjectID
		attrs["token_id"] = record.ID
		attrs["status"] = string(record.Status)
	}
	s.audit.security(ctx, AuditRefreshInvalid, "invalid refresh token presented", subjectID, attrs)
}

// revokeDescendants revokes every ACTIVE successor spawned from a replayed token.
func (s *TokenService) revokeDescendants(ctx context.Context, replayed *domain.RefreshToken) error {
	ids, err := s.repo.ListDescendantIDs(ctx, replayed.ID)
	if err != nil {
		return fmt.Errorf("list replayed token descendants: %w", err)
	}
	revoked, err := s.repo.TransitionActiveByIDs(ctx, ids, repository.Transition{
		To:     domain.TokenStatusRevoked,
		Actor:  SystemActor,
		Reason: domain.RevokeReasonReplayDetected,
		At:     s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("revoke replayed token descendants: %w", err)
	}
	observability.RecordTokenRevoked(ctx, domain.RevokeReasonReplayDetected, revoked)
	s.audit.security(ctx, AuditReplayCascade, domain.RevokeReasonReplayDetected, replayed.SubjectID, map[string]string{
		"token_id": replayed.ID,
		"revoked":  strconv.FormatInt(revoked, 10),
	})
	return nil
}

func (s *TokenService) newRecord(p domain.Principal, dc domain.DeviceContext, now time.Time) (*domain.RefreshToken, error) {
	raw, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	ttl := s.policy.RefreshTTL
	if dc.RememberMe {
		ttl = s.policy.RememberMeRefreshTTL
	}
	return &domain.RefreshToken{
		ID:             uuid.NewString(),
		Token:          raw,
		SubjectID:      p.ID,
		SubjectEmail:   p.Email,
		SubjectRole:    p.Role,
		OrganizationID: ptr(p.OrganizationID),
		BranchID:       ptr(p.BranchID),
		Status:         domain.TokenStatusActive,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
		DeviceID:       ptr(dc.DeviceID),
		DeviceName:     ptr(dc.DeviceName),
		IPAddress:      ptr(dc.IPAddress),
		UserAgent:      ptr(dc.UserAgent),
		UsageCount:     0,
		MaxUsageCount:  s.policy.MaxUsageCount,
		IsRememberMe:   dc.RememberMe,
	}, nil
}

func (s *TokenService) mintPair(p domain.Principal, record *domain.RefreshToken) (*domain.TokenPair, error) {
	access, err := s.jwtMgr.SignAccessTokenWithJTI(p, s.policy.AccessTTL, record.ID)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: record.Token,
		ExpiresIn:    int64(s.policy.AccessTTL / time.Second),
		TokenType:    tokenTypeBearer,
	}, nil
}

// carryForward keeps the device binding and remember-me flag of the retired record.
// Network metadata from the redeeming request replaces the old values when present.
func carryForward(prev *domain.RefreshToken, dc domain.DeviceContext) domain.DeviceContext {
	out := domain.DeviceContext{
		IPAddress:  getString(prev.IPAddress),
		UserAgent:  getString(prev.UserAgent),
		DeviceID:   getString(prev.DeviceID),
		DeviceName: getString(prev.DeviceName),
		RememberMe: prev.IsRememberMe,
	}
	if dc.IPAddress != "" {
		out.IPAddress = dc.IPAddress
	}
	if dc.UserAgent != "" {
		out.UserAgent = dc.UserAgent
	}
	return out
}
