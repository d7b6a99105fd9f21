package service

import (
	"context"
	"strconv"
	"time"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// QuotaEnforcer bounds the number of ACTIVE refresh tokens a subject may hold. Regular
// and remember-me tokens are separate buckets with separate caps.
type QuotaEnforcer struct {
	repo   repository.RefreshTokenRepository
	policy config.TokenPolicy
	audit  auditor
	now    func() time.Time
}

func NewQuotaEnforcer(repo repository.RefreshTokenRepository, policy config.TokenPolicy, hook observability.AuditHook) *QuotaEnforcer {
	q := &QuotaEnforcer{repo: repo, policy: policy, now: time.Now}
	q.audit = newAuditor(hook, q.clock)
	return q
}

func (q *QuotaEnforcer) WithClock(now func() time.Time) *QuotaEnforcer {
	if now != nil {
		q.now = now
	}
	return q
}

func (q *QuotaEnforcer) clock() time.Time { return q.now() }

func (q *QuotaEnforcer) limitFor(rememberMe bool) int {
	if rememberMe {
		return q.policy.RememberMeMaxPerSubject
	}
	return q.policy.MaxPerSubject
}

// EnforceQuota makes room for exactly one new token in the subject's bucket. When the
// bucket is full it revokes every record from position max-1 onward, least recently
// used last in the ordering, and returns how many it revoked.
func (q *QuotaEnforcer) EnforceQuota(ctx context.Context, subjectID string, isRememberMe bool) (int64, error) {
	revoked, err := q.enforceWithin(ctx, q.repo, subjectID, isRememberMe)
	if err != nil {
		return 0, err
	}
	q.reportQuota(ctx, subjectID, isRememberMe, revoked)
	return revoked, nil
}

// enforceWithin applies the issuance quota through repo, which may be bound to a
// transaction. The caller reports the outcome once the writes are committed.
func (q *QuotaEnforcer) enforceWithin(ctx context.Context, repo repository.RefreshTokenRepository, subjectID string, isRememberMe bool) (int64, error) {
	return q.revokeBeyond(ctx, repo, subjectID, isRememberMe, q.limitFor(isRememberMe)-1, domain.RevokeReasonQuotaExceeded)
}

func (q *QuotaEnforcer) reportQuota(ctx context.Context, subjectID string, isRememberMe bool, revoked int64) {
	q.report(ctx, AuditQuotaEnforced, domain.RevokeReasonQuotaExceeded, subjectID, isRememberMe, q.limitFor(isRememberMe)-1, revoked)
}

// TrimRememberMe keeps the cap most recently used remember-me tokens of a subject and
// revokes the rest.
func (q *QuotaEnforcer) TrimRememberMe(ctx context.Context, subjectID string) (int64, error) {
	keep := q.policy.RememberMeMaxPerSubject
	revoked, err := q.revokeBeyond(ctx, q.repo, subjectID, true, keep, domain.RevokeReasonRememberMeCap)
	if err != nil {
		return 0, err
	}
	q.report(ctx, AuditCleanupTrim, domain.RevokeReasonRememberMeCap, subjectID, true, keep, revoked)
	return revoked, nil
}

func (q *QuotaEnforcer) revokeBeyond(ctx context.Context, repo repository.RefreshTokenRepository, subjectID string, rememberMe bool, keep int, reason string) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "quota.revoke_beyond",
		attribute.String("subject_id", subjectID),
		attribute.Bool("remember_me", rememberMe),
		attribute.Int("keep", keep))
	defer span.End()

	keep = max(keep, 0)
	active, err := repo.ListActiveBySubject(ctx, subjectID, rememberMe)
	if err != nil {
		return 0, err
	}
	if len(active) <= keep {
		return 0, nil
	}
	ids := make([]string, 0, len(active)-keep)
	for _, t := range active[keep:] {
		ids = append(ids, t.ID)
	}
	return repo.TransitionActiveByIDs(ctx, ids, repository.Transition{
		To:     domain.TokenStatusRevoked,
		Actor:  SystemActor,
		Reason: reason,
		At:     q.now().UTC(),
	})
}

func (q *QuotaEnforcer) report(ctx context.Context, kind, reason, subjectID string, rememberMe bool, keep int, revoked int64) {
	if revoked <= 0 {
		return
	}
	observability.RecordTokenRevoked(ctx, reason, revoked)
	q.audit.info(ctx, kind, reason, subjectID, map[string]string{
		"revoked":     strconv.FormatInt(revoked, 10),
		"kept":        strconv.Itoa(max(keep, 0)),
		"remember_me": strconv.FormatBool(rememberMe),
	})
}
