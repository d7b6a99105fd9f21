package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/repository"
	"github.com/clinicops/authcore/internal/security"
)

// RevocationService ends sessions explicitly: logout, logout everywhere, and admin
// forced sign-out. Records are revoked, never deleted; cleanup removes them later.
type RevocationService struct {
	repo     repository.RefreshTokenRepository
	denylist AccessDenylist
	policy   config.TokenPolicy
	audit    auditor
	now      func() time.Time
}

func NewRevocationService(repo repository.RefreshTokenRepository, denylist AccessDenylist, policy config.TokenPolicy, hook observability.AuditHook) *RevocationService {
	if denylist == nil {
		denylist = NewNoopAccessDenylist()
	}
	s := &RevocationService{repo: repo, denylist: denylist, policy: policy, now: time.Now}
	s.audit = newAuditor(hook, s.clock)
	return s
}

func (s *RevocationService) WithClock(now func() time.Time) *RevocationService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *RevocationService) clock() time.Time { return s.now() }

// RevokeOne revokes a single ACTIVE token. It reports false, not an error, when nothing
// matched.
func (s *RevocationService) RevokeOne(ctx context.Context, refreshToken, actorID, reason string) (bool, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return false, nil
	}
	if reason == "" {
		reason = domain.RevokeReasonLogout
	}
	revoked, err := s.repo.TransitionActive(ctx, refreshToken, s.transition(actorID, reason))
	if err != nil {
		return false, err
	}
	if revoked {
		observability.RecordTokenRevoked(ctx, reason, 1)
	}
	s.audit.info(ctx, AuditTokenRevoked, reason, actorID, map[string]string{
		"token_prefix": security.TokenPrefix(refreshToken),
		"revoked":      strconv.FormatBool(revoked),
	})
	return revoked, nil
}

// RevokeSession revokes one of subjectID's tokens by record id. A record owned by another
// subject is reported as repository.ErrRefreshTokenNotFound.
func (s *RevocationService) RevokeSession(ctx context.Context, subjectID, tokenID, actorID string) (bool, error) {
	if actorID == "" {
		actorID = subjectID
	}
	revoked, err := s.repo.TransitionActiveByIDForSubject(ctx, subjectID, tokenID, s.transition(actorID, domain.RevokeReasonLogout))
	if err != nil {
		return false, err
	}
	if revoked {
		observability.RecordTokenRevoked(ctx, domain.RevokeReasonLogout, 1)
	}
	s.audit.info(ctx, AuditTokenRevoked, domain.RevokeReasonLogout, subjectID, map[string]string{
		"token_id": tokenID,
		"actor_id": actorID,
		"revoked":  strconv.FormatBool(revoked),
	})
	return revoked, nil
}

// RevokeAll revokes every ACTIVE token of a subject and returns how many changed. With a
// denylist configured, access tokens already issued to the subject stop validating too.
func (s *RevocationService) RevokeAll(ctx context.Context, subjectID, actorID, reason string) (int64, error) {
	if strings.TrimSpace(subjectID) == "" {
		return 0, nil
	}
	if reason == "" {
		reason = domain.RevokeReasonLogoutEverywhere
	}
	tr := s.transition(actorID, reason)
	count, err := s.repo.TransitionActiveBySubject(ctx, subjectID, tr)
	if err != nil {
		return 0, err
	}
	observability.RecordTokenRevoked(ctx, reason, count)
	s.audit.info(ctx, AuditTokensRevokedAll, reason, subjectID, map[string]string{
		"actor_id": actorID,
		"revoked":  strconv.FormatInt(count, 10),
	})
	if err := s.denylist.DenySubject(ctx, subjectID, tr.At, s.policy.AccessTTL); err != nil {
		return count, fmt.Errorf("deny subject access tokens: %w", err)
	}
	return count, nil
}

func (s *RevocationService) transition(actorID, reason string) repository.Transition {
	return repository.Transition{
		To:     domain.TokenStatusRevoked,
		Actor:  actorID,
		Reason: reason,
		At:     s.now().UTC(),
	}
}

// IsNotFound reports whether err means the addressed record does not exist for the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrRefreshTokenNotFound)
}
