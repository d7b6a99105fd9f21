package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/repository"
)

const (
	JobHourlySweep    = "hourly_sweep"
	JobRememberMeTrim = "remember_me_trim"
)

// CleanupResult is what a manual cleanup reports. Failures are logged, not returned.
type CleanupResult struct {
	Success bool  `json:"success"`
	Removed int64 `json:"removed"`
	Revoked int64 `json:"revoked"`
}

type CleanupService struct {
	repo   repository.RefreshTokenRepository
	quota  *QuotaEnforcer
	policy config.TokenPolicy
	audit  auditor
	logger *slog.Logger
	now    func() time.Time
}

func NewCleanupService(repo repository.RefreshTokenRepository, quota *QuotaEnforcer, policy config.TokenPolicy, hook observability.AuditHook, logger *slog.Logger) *CleanupService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CleanupService{repo: repo, quota: quota, policy: policy, logger: logger, now: time.Now}
	s.audit = newAuditor(hook, s.clock)
	return s
}

func (s *CleanupService) WithClock(now func() time.Time) *CleanupService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *CleanupService) clock() time.Time { return s.now() }

// RunHourlySweep hard-deletes records past expiry and terminal records older than the
// retention window.
func (s *CleanupService) RunHourlySweep(ctx context.Context) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "cleanup.sweep")
	defer span.End()

	now := s.now().UTC()
	removed, err := s.repo.DeleteExpiredOrTerminal(ctx, now, now.Add(-s.policy.CleanupRetention))
	if err != nil {
		observability.RecordCleanupRun(ctx, JobHourlySweep, "error", 0)
		return 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	observability.RecordCleanupRun(ctx, JobHourlySweep, "success", removed)
	s.audit.info(ctx, AuditCleanupSweep, "expired and terminal refresh tokens removed", "", map[string]string{
		"removed": strconv.FormatInt(removed, 10),
	})
	return removed, nil
}

// RunRememberMeTrim revokes the least recently used remember-me tokens of every subject
// holding more than the remember-me cap. A failure for one subject does not stop the rest.
func (s *CleanupService) RunRememberMeTrim(ctx context.Context) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "cleanup.trim")
	defer span.End()

	subjects, err := s.repo.SubjectsOverRememberMeCap(ctx, s.policy.RememberMeMaxPerSubject)
	if err != nil {
		observability.RecordCleanupRun(ctx, JobRememberMeTrim, "error", 0)
		return 0, fmt.Errorf("find subjects over remember-me cap: %w", err)
	}
	var (
		total    int64
		firstErr error
	)
	for _, subjectID := range subjects {
		n, err := s.quota.TrimRememberMe(ctx, subjectID)
		if err != nil {
			s.logger.ErrorContext(ctx, "remember-me trim failed", "subject_id", subjectID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("trim remember-me tokens for %s: %w", subjectID, err)
			}
			continue
		}
		total += n
	}
	outcome := "success"
	if firstErr != nil {
		outcome = "partial"
	}
	observability.RecordCleanupRun(ctx, JobRememberMeTrim, outcome, total)
	s.audit.info(ctx, AuditCleanupTrim, "remember-me tokens trimmed", "", map[string]string{
		"subjects": strconv.Itoa(len(subjects)),
		"revoked":  strconv.FormatInt(total, 10),
	})
	return total, firstErr
}

// ForceCleanup runs the sweep and the trim once, outside the schedule. It never returns
// an error; Success is false when either job failed.
func (s *CleanupService) ForceCleanup(ctx context.Context) CleanupResult {
	result := CleanupResult{Success: true}
	removed, err := s.RunHourlySweep(ctx)
	if err != nil {
		result.Success = false
		s.logger.ErrorContext(ctx, "forced cleanup sweep failed", "error", err)
		s.audit.security(ctx, AuditCleanupJobFailed, "forced cleanup sweep failed", "", map[string]string{"job": JobHourlySweep})
	}
	result.Removed = removed

	revoked, err := s.RunRememberMeTrim(ctx)
	if err != nil {
		result.Success = false
		s.logger.ErrorContext(ctx, "forced cleanup trim failed", "error", err)
		s.audit.security(ctx, AuditCleanupJobFailed, "forced cleanup trim failed", "", map[string]string{"job": JobRememberMeTrim})
	}
	result.Revoked = revoked
	s.logger.InfoContext(ctx, "forced cleanup finished",
		"success", result.Success, "removed", result.Removed, "revoked", result.Revoked)
	return result
}
