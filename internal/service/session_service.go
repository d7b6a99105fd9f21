package service

import (
	"context"
	"time"

	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/repository"
	"github.com/clinicops/authcore/internal/security"
)

// SessionService backs the "manage sessions" view and the token dashboards.
type SessionService struct {
	repo repository.RefreshTokenRepository
	now  func() time.Time
}

func NewSessionService(repo repository.RefreshTokenRepository) *SessionService {
	return &SessionService{repo: repo, now: time.Now}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	if now != nil {
		s.now = now
	}
	return s
}

// ListActiveTokens returns sanitized views of a subject's tokens. With includeExpired the
// listing also shows records already moved to EXPIRED and ACTIVE records past expiry.
func (s *SessionService) ListActiveTokens(ctx context.Context, subjectID string, includeExpired bool, page repository.PageRequest) (repository.PageResult[domain.TokenView], error) {
	now := s.now().UTC()
	records, err := s.repo.ListBySubject(ctx, subjectID, includeExpired, now, page)
	out := repository.PageResult[domain.TokenView]{
		Page:       records.Page,
		PageSize:   records.PageSize,
		Total:      records.Total,
		TotalPages: records.TotalPages,
	}
	if err != nil {
		return out, err
	}
	out.Items = make([]domain.TokenView, 0, len(records.Items))
	for i := range records.Items {
		out.Items = append(out.Items, toTokenView(&records.Items[i], now))
	}
	return out, nil
}

func (s *SessionService) Stats(ctx context.Context, scope domain.StatsScope) (*domain.TokenStats, error) {
	return s.repo.Stats(ctx, scope, s.now().UTC())
}

func toTokenView(t *domain.RefreshToken, now time.Time) domain.TokenView {
	return domain.TokenView{
		ID:           t.ID,
		TokenPrefix:  security.TokenPrefix(t.Token),
		Status:       t.Status,
		IssuedAt:     t.IssuedAt,
		ExpiresAt:    t.ExpiresAt,
		LastUsedAt:   t.LastUsedAt,
		DeviceID:     getString(t.DeviceID),
		DeviceName:   getString(t.DeviceName),
		IPAddress:    getString(t.IPAddress),
		UserAgent:    getString(t.UserAgent),
		IsRememberMe: t.IsRememberMe,
		IsExpired:    t.Status == domain.TokenStatusExpired || t.IsExpiredAt(now),
		UsageCount:   t.UsageCount,
	}
}
