package service

import (
	"context"
	"time"

	"github.com/clinicops/authcore/internal/observability"
)

const (
	AuditTokenIssued        = "token.issued"
	AuditRefreshRotated     = "refresh.rotated"
	AuditRefreshInvalid     = "refresh.invalid"
	AuditRefreshExpired     = "refresh.expired"
	AuditRefreshUsageCap    = "refresh.usage_exceeded"
	AuditReplayCascade      = "refresh.replay_cascade"
	AuditTokenRevoked       = "token.revoked"
	AuditTokensRevokedAll   = "tokens.revoked_all"
	AuditQuotaEnforced      = "quota.enforced"
	AuditCleanupSweep       = "cleanup.sweep"
	AuditCleanupTrim        = "cleanup.trim"
	AuditAccessRejected     = "access.rejected"
	AuditCleanupJobFailed   = "cleanup.failed"
	AuditDenylistUnreadable = "access.denylist_unavailable"
)

// SystemActor is recorded as revoked_by for transitions made by policy rather than a person.
const SystemActor = "system"

type auditor struct {
	hook observability.AuditHook
	now  func() time.Time
}

func newAuditor(hook observability.AuditHook, now func() time.Time) auditor {
	if hook == nil {
		hook = observability.NoopAuditSink{}
	}
	return auditor{hook: hook, now: now}
}

func (a auditor) info(ctx context.Context, kind, msg, subjectID string, attrs map[string]string) {
	a.emit(ctx, kind, msg, subjectID, false, attrs)
}

func (a auditor) security(ctx context.Context, kind, msg, subjectID string, attrs map[string]string) {
	a.emit(ctx, kind, msg, subjectID, true, attrs)
}

func (a auditor) emit(ctx context.Context, kind, msg, subjectID string, security bool, attrs map[string]string) {
	a.hook.Record(ctx, observability.AuditEvent{
		Kind:      kind,
		Message:   msg,
		SubjectID: subjectID,
		Security:  security,
		Timestamp: a.now().UTC(),
		Attrs:     attrs,
	})
}

func ptr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func getString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
