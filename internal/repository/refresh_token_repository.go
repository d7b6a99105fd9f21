package repository

import (
	"context"
	"errors"
	"time"

	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var ErrRefreshTokenNotFound = errors.New("refresh token not found")

const entityRefreshToken = "refresh_token"

// maxLineageDepth bounds the descendant walk on replay so a corrupt chain cannot loop forever.
const maxLineageDepth = 1024

// Transition describes a move out of ACTIVE. Every terminal transition stamps the audit fields.
type Transition struct {
	To     domain.TokenStatus
	Actor  string
	Reason string
	At     time.Time
}

type RefreshTokenRepository interface {
	// WithinTransaction runs fn against a repository bound to one transaction. Returning
	// an error from fn rolls back every write it made.
	WithinTransaction(ctx context.Context, fn func(tx RefreshTokenRepository) error) error
	Create(ctx context.Context, t *domain.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	FindByIDForSubject(ctx context.Context, subjectID, id string) (*domain.RefreshToken, error)
	RotateActive(ctx context.Context, token string, now time.Time, successor *domain.RefreshToken) (*domain.RefreshToken, error)
	TransitionActive(ctx context.Context, token string, tr Transition) (bool, error)
	TransitionActiveByIDForSubject(ctx context.Context, subjectID, id string, tr Transition) (bool, error)
	TransitionActiveByIDs(ctx context.Context, ids []string, tr Transition) (int64, error)
	TransitionActiveBySubject(ctx context.Context, subjectID string, tr Transition) (int64, error)
	ListActiveBySubject(ctx context.Context, subjectID string, rememberMe bool) ([]domain.RefreshToken, error)
	ListBySubject(ctx context.Context, subjectID string, includeExpired bool, now time.Time, page PageRequest) (PageResult[domain.RefreshToken], error)
	ListDescendantIDs(ctx context.Context, rootID string) ([]string, error)
	SubjectsOverRememberMeCap(ctx context.Context, limit int) ([]string, error)
	DeleteExpiredOrTerminal(ctx context.Context, now, terminalBefore time.Time) (int64, error)
	Stats(ctx context.Context, scope domain.StatsScope, now time.Time) (*domain.TokenStats, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

// Migrate creates or updates the refresh_tokens table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.RefreshToken{})
}

func record(ctx context.Context, operation string, err error) {
	switch {
	case err == nil:
		observability.RecordRepositoryOperation(ctx, entityRefreshToken, operation, "success")
	case errors.Is(err, ErrRefreshTokenNotFound):
		observability.RecordRepositoryOperation(ctx, entityRefreshToken, operation, "not_found")
	default:
		observability.RecordRepositoryOperation(ctx, entityRefreshToken, operation, "error")
	}
}

func transitionUpdates(tr Transition) map[string]any {
	updates := map[string]any{
		"status":         tr.To,
		"revoked_reason": tr.Reason,
		"revoked_at":     tr.At,
	}
	if tr.Actor != "" {
		updates["revoked_by"] = tr.Actor
	}
	return updates
}

func (r *GormRefreshTokenRepository) WithinTransaction(ctx context.Context, fn func(tx RefreshTokenRepository) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRefreshTokenRepository{db: tx})
	})
	record(ctx, "transaction", err)
	return err
}

func (r *GormRefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	record(ctx, "create", err)
	return err
}

func (r *GormRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrRefreshTokenNotFound
	}
	record(ctx, "find_by_token", err)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *GormRefreshTokenRepository) FindByIDForSubject(ctx context.Context, subjectID, id string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("subject_id = ? AND id = ?", subjectID, id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrRefreshTokenNotFound
	}
	record(ctx, "find_by_id_for_subject", err)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RotateActive retires the ACTIVE record matching token and inserts successor in one
// transaction. The retirement is a conditional update keyed on token+status, so of two
// concurrent callers exactly one sees a changed row; the other gets ErrRefreshTokenNotFound.
func (r *GormRefreshTokenRepository) RotateActive(ctx context.Context, token string, now time.Time, successor *domain.RefreshToken) (*domain.RefreshToken, error) {
	ctx, span := observability.StartSpan(ctx, "repository.refresh_token.rotate",
		attribute.String("subject_id", successor.SubjectID))
	defer span.End()

	var retired domain.RefreshToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.RefreshToken{}).
			Where("token = ? AND status = ? AND expires_at > ? AND usage_count < max_usage_count", token, domain.TokenStatusActive, now).
			Updates(map[string]any{
				"status":         domain.TokenStatusRotated,
				"revoked_reason": domain.RevokeReasonRotated,
				"revoked_at":     now,
				"last_used_at":   now,
				"usage_count":    gorm.Expr("usage_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRefreshTokenNotFound
		}
		if err := tx.Where("token = ?", token).First(&retired).Error; err != nil {
			return err
		}
		successor.ParentTokenID = &retired.ID
		return tx.Create(successor).Error
	})
	record(ctx, "rotate", err)
	if err != nil {
		if !errors.Is(err, ErrRefreshTokenNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rotate failed")
		}
		return nil, err
	}
	return &retired, nil
}

func (r *GormRefreshTokenRepository) TransitionActive(ctx context.Context, token string, tr Transition) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("token = ? AND status = ?", token, domain.TokenStatusActive).
		Updates(transitionUpdates(tr))
	record(ctx, "transition_active", res.Error)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRefreshTokenRepository) TransitionActiveByIDForSubject(ctx context.Context, subjectID, id string, tr Transition) (bool, error) {
	if _, err := r.FindByIDForSubject(ctx, subjectID, id); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("subject_id = ? AND id = ? AND status = ?", subjectID, id, domain.TokenStatusActive).
		Updates(transitionUpdates(tr))
	record(ctx, "transition_active_by_id_for_subject", res.Error)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRefreshTokenRepository) TransitionActiveByIDs(ctx context.Context, ids []string, tr Transition) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("id IN ? AND status = ?", ids, domain.TokenStatusActive).
		Updates(transitionUpdates(tr))
	record(ctx, "transition_active_by_ids", res.Error)
	return res.RowsAffected, res.Error
}

func (r *GormRefreshTokenRepository) TransitionActiveBySubject(ctx context.Context, subjectID string, tr Transition) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("subject_id = ? AND status = ?", subjectID, domain.TokenStatusActive).
		Updates(transitionUpdates(tr))
	record(ctx, "transition_active_by_subject", res.Error)
	return res.RowsAffected, res.Error
}

// ListActiveBySubject returns one quota bucket ordered most-recently-used first.
// Records never redeemed rank by issuance time.
func (r *GormRefreshTokenRepository) ListActiveBySubject(ctx context.Context, subjectID string, rememberMe bool) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND status = ? AND is_remember_me = ?", subjectID, domain.TokenStatusActive, rememberMe).
		Order("COALESCE(last_used_at, issued_at) DESC").
		Order("issued_at DESC").
		Find(&tokens).Error
	record(ctx, "list_active_by_subject", err)
	return tokens, err
}

func (r *GormRefreshTokenRepository) ListBySubject(ctx context.Context, subjectID string, includeExpired bool, now time.Time, page PageRequest) (PageResult[domain.RefreshToken], error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).Where("subject_id = ?", subjectID)
		if includeExpired {
			return q.Where("status IN ?", []domain.TokenStatus{domain.TokenStatusActive, domain.TokenStatusExpired})
		}
		return q.Where("status = ? AND expires_at > ?", domain.TokenStatusActive, now)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		record(ctx, "list_by_subject", err)
		return newPageResult[domain.RefreshToken](page, 0), err
	}
	result := newPageResult[domain.RefreshToken](page, total)
	if total == 0 {
		record(ctx, "list_by_subject", nil)
		return result, nil
	}
	err := base().Order("issued_at DESC").
		Scopes(page.paginate).
		Find(&result.Items).Error
	record(ctx, "list_by_subject", err)
	return result, err
}

// ListDescendantIDs walks parent_token_id links forward from rootID and returns the ids
// of every successor in the chain, in breadth-first order.
func (r *GormRefreshTokenRepository) ListDescendantIDs(ctx context.Context, rootID string) ([]string, error) {
	var out []string
	frontier := []string{rootID}
	for depth := 0; len(frontier) > 0 && depth < maxLineageDepth; depth++ {
		var children []string
		if err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
			Where("parent_token_id IN ?", frontier).
			Pluck("id", &children).Error; err != nil {
			record(ctx, "list_descendant_ids", err)
			return out, err
		}
		out = append(out, children...)
		frontier = children
	}
	record(ctx, "list_descendant_ids", nil)
	return out, nil
}

func (r *GormRefreshTokenRepository) SubjectsOverRememberMeCap(ctx context.Context, limit int) ([]string, error) {
	var subjects []string
	err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("status = ? AND is_remember_me = ?", domain.TokenStatusActive, true).
		Group("subject_id").
		Having("COUNT(*) > ?", limit).
		Pluck("subject_id", &subjects).Error
	record(ctx, "subjects_over_remember_me_cap", err)
	return subjects, err
}

// DeleteExpiredOrTerminal hard-deletes records past expiry and terminal records whose
// transition happened at or before terminalBefore.
func (r *GormRefreshTokenRepository) DeleteExpiredOrTerminal(ctx context.Context, now, terminalBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ? OR (status <> ? AND (revoked_at IS NULL OR revoked_at <= ?))", now, domain.TokenStatusActive, terminalBefore).
		Delete(&domain.RefreshToken{})
	record(ctx, "delete_expired_or_terminal", res.Error)
	return res.RowsAffected, res.Error
}

func (r *GormRefreshTokenRepository) Stats(ctx context.Context, scope domain.StatsScope, now time.Time) (*domain.TokenStats, error) {
	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.RefreshToken{})
		if scope.OrganizationID != "" {
			q = q.Where("organization_id = ?", scope.OrganizationID)
		}
		if scope.BranchID != "" {
			q = q.Where("branch_id = ?", scope.BranchID)
		}
		if scope.SubjectID != "" {
			q = q.Where("subject_id = ?", scope.SubjectID)
		}
		return q
	}

	var rows []struct {
		Status domain.TokenStatus
		Count  int64
	}
	stats := &domain.TokenStats{ByStatus: map[domain.TokenStatus]int64{}, GeneratedAt: now}
	if err := scoped().Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		record(ctx, "stats", err)
		return nil, err
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}
	if err := scoped().Where("status = ? AND is_remember_me = ?", domain.TokenStatusActive, true).
		Count(&stats.ActiveRememberMe).Error; err != nil {
		record(ctx, "stats", err)
		return nil, err
	}
	err := scoped().Where("status = ? AND expires_at <= ?", domain.TokenStatusActive, now).
		Count(&stats.ActiveExpired).Error
	record(ctx, "stats", err)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
