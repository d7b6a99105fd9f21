package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinicops/authcore/internal/domain"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestRefreshTokenRepositoryRotateActiveRetiresAndLinksSuccessor(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)

	old := newToken("U1", "tok-a", baseTime, false)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}
	now := baseTime.Add(time.Minute)
	successor := newToken("U1", "tok-b", now, false)

	retired, err := repo.RotateActive(ctx, "tok-a", now, successor)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if retired.Status != domain.TokenStatusRotated || retired.UsageCount != 1 {
		t.Fatalf("unexpected retired record: status=%s usage=%d", retired.Status, retired.UsageCount)
	}
	if retired.RevokedReason == nil || *retired.RevokedReason != domain.RevokeReasonRotated {
		t.Fatal("expected rotated reason on retired record")
	}

	stored, err := repo.FindByToken(ctx, "tok-b")
	if err != nil {
		t.Fatalf("find successor: %v", err)
	}
	if stored.ParentTokenID == nil || *stored.ParentTokenID != old.ID {
		t.Fatal("expected successor to link to predecessor id")
	}
	if stored.Status != domain.TokenStatusActive {
		t.Fatalf("expected successor ACTIVE, got %s", stored.Status)
	}

	if _, err := repo.RotateActive(ctx, "tok-a", now, newToken("U1", "tok-c", now, false)); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected second rotation to miss, got %v", err)
	}
	if _, err := repo.FindByToken(ctx, "tok-c"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatal("expected losing rotation to leave no successor behind")
	}
}

func TestRefreshTokenRepositoryRotateActiveRejectsExpiredAndExhausted(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)

	expired := newToken("U1", "tok-expired", baseTime.Add(-48*time.Hour), false)
	expired.ExpiresAt = baseTime.Add(-time.Hour)
	exhausted := newToken("U1", "tok-exhausted", baseTime, false)
	exhausted.UsageCount = exhausted.MaxUsageCount
	for _, tok := range []*domain.RefreshToken{expired, exhausted} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	for _, raw := range []string{"tok-expired", "tok-exhausted"} {
		if _, err := repo.RotateActive(ctx, raw, baseTime, newToken("U1", raw+"-next", baseTime, false)); !errors.Is(err, ErrRefreshTokenNotFound) {
			t.Fatalf("%s: expected not found, got %v", raw, err)
		}
	}
}

func TestRefreshTokenRepositoryConcurrentRotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)
	if err := repo.Create(ctx, newToken("U1", "tok-race", baseTime, false)); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		misses  int
		unknown []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.RotateActive(ctx, "tok-race", baseTime, newToken("U1", fmt.Sprintf("tok-race-%d", i), baseTime, false))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRefreshTokenNotFound):
				misses++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if wins != 1 || misses != workers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d misses=%d", wins, misses)
	}
	active, err := repo.ListActiveBySubject(ctx, "U1", false)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one active successor, got %d", len(active))
	}
}

func TestRefreshTokenRepositoryTransitionActiveIsConditional(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)
	if err := repo.Create(ctx, newToken("U1", "tok-1", baseTime, false)); err != nil {
		t.Fatalf("create: %v", err)
	}
	tr := Transition{To: domain.TokenStatusRevoked, Actor: "admin-1", Reason: domain.RevokeReasonLogout, At: baseTime}

	changed, err := repo.TransitionActive(ctx, "tok-1", tr)
	if err != nil || !changed {
		t.Fatalf("first transition: changed=%v err=%v", changed, err)
	}
	changed, err = repo.TransitionActive(ctx, "tok-1", Transition{To: domain.TokenStatusExpired, Reason: "other", At: baseTime})
	if err != nil || changed {
		t.Fatalf("second transition: changed=%v err=%v", changed, err)
	}
	stored, err := repo.FindByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != domain.TokenStatusRevoked || *stored.RevokedBy != "admin-1" || *stored.RevokedReason != domain.RevokeReasonLogout {
		t.Fatalf("terminal state changed: %+v", stored)
	}
	if changed, err := repo.TransitionActive(ctx, "missing", tr); err != nil || changed {
		t.Fatalf("missing token: changed=%v err=%v", changed, err)
	}
}

func TestRefreshTokenRepositoryTransitionByIDForSubjectScopesOwnership(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)
	mine := newToken("U1", "tok-mine", baseTime, false)
	theirs := newToken("U2", "tok-theirs", baseTime, false)
	for _, tok := range []*domain.RefreshToken{mine, theirs} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	tr := Transition{To: domain.TokenStatusRevoked, Actor: "U1", Reason: domain.RevokeReasonLogout, At: baseTime}

	if _, err := repo.TransitionActiveByIDForSubject(ctx, "U1", theirs.ID, tr); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected not found for another subject's token, got %v", err)
	}
	changed, err := repo.TransitionActiveByIDForSubject(ctx, "U1", mine.ID, tr)
	if err != nil || !changed {
		t.Fatalf("revoke own: changed=%v err=%v", changed, err)
	}
	changed, err = repo.TransitionActiveByIDForSubject(ctx, "U1", mine.ID, tr)
	if err != nil || changed {
		t.Fatalf("idempotent revoke: changed=%v err=%v", changed, err)
	}
}

func TestRefreshTokenRepositoryListActiveBySubjectOrdersByLastUse(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)

	oldest := newToken("U1", "tok-oldest", baseTime, false)
	middle := newToken("U1", "tok-middle", baseTime.Add(time.Minute), false)
	usedRecently := newToken("U1", "tok-used", baseTime.Add(-time.Hour), false)
	lastUsed := baseTime.Add(time.Hour)
	usedRecently.LastUsedAt = &lastUsed
	rememberMe := newToken("U1", "tok-remember", baseTime.Add(2*time.Hour), true)
	other := newToken("U2", "tok-other", baseTime, false)
	for _, tok := range []*domain.RefreshToken{oldest, middle, usedRecently, rememberMe, other} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := repo.ListActiveBySubject(ctx, "U1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"tok-used", "tok-middle", "tok-oldest"}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, tok := range got {
		if tok.Token != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], tok.Token)
		}
	}

	remembered, err := repo.ListActiveBySubject(ctx, "U1", true)
	if err != nil {
		t.Fatalf("list remember-me: %v", err)
	}
	if len(remembered) != 1 || remembered[0].Token != "tok-remember" {
		t.Fatalf("unexpected remember-me bucket: %+v", remembered)
	}
}

func TestRefreshTokenRepositoryListBySubjectFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)
	now := baseTime.Add(time.Hour)

	active := newToken("U1", "tok-active", baseTime, false)
	stale := newToken("U1", "tok-stale", baseTime.Add(-10*24*time.Hour), false)
	stale.ExpiresAt = baseTime.Add(-time.Minute)
	expired := newToken("U1", "tok-expired", baseTime.Add(-20*24*time.Hour), false)
	expired.Status = domain.TokenStatusExpired
	revoked := newToken("U1", "tok-revoked", baseTime, false)
	revoked.Status = domain.TokenStatusRevoked
	for _, tok := range []*domain.RefreshToken{active, stale, expired, revoked} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	page, err := repo.ListBySubject(ctx, "U1", false, now, PageRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Token != "tok-active" {
		t.Fatalf("unexpected live page: %+v", page)
	}

	page, err = repo.ListBySubject(ctx, "U1", true, now, PageRequest{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list including expired: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 || page.TotalPages != 2 {
		t.Fatalf("unexpected page: total=%d items=%d pages=%d", page.Total, len(page.Items), page.TotalPages)
	}
}

func TestRefreshTokenRepositoryListDescendantIDsWalksChain(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)

	root := newToken("U1", "tok-root", baseTime, false)
	if err := repo.Create(ctx, root); err != nil {
		t.Fatalf("create root: %v", err)
	}
	prev := "tok-root"
	var chain []string
	for i := 0; i < 3; i++ {
		next := newToken("U1", fmt.Sprintf("tok-gen-%d", i), baseTime, false)
		if _, err := repo.RotateActive(ctx, prev, baseTime, next); err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
		chain = append(chain, next.ID)
		prev = next.Token
	}

	got, err := repo.ListDescendantIDs(ctx, root.ID)
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	if strings.Join(got, ",") != strings.Join(chain, ",") {
		t.Fatalf("expected chain %v, got %v", chain, got)
	}
}

func TestRefreshTokenRepositoryDeleteExpiredOrTerminal(t *testing.T) {
	ctx := context.Background()
	repo, db := newRefreshTokenRepoForTest(t)
	now := baseTime.Add(time.Hour)

	for i := 0; i < 3; i++ {
		tok := newToken("U1", fmt.Sprintf("tok-expired-%d", i), baseTime.Add(-30*24*time.Hour), false)
		tok.ExpiresAt = baseTime
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create expired: %v", err)
		}
	}
	revokedAt := baseTime
	revoked := newToken("U1", "tok-revoked", baseTime, false)
	revoked.Status = domain.TokenStatusRevoked
	revoked.RevokedAt = &revokedAt
	recentAt := now
	recent := newToken("U1", "tok-recently-revoked", baseTime, false)
	recent.Status = domain.TokenStatusRevoked
	recent.RevokedAt = &recentAt
	for _, tok := range []*domain.RefreshToken{revoked, recent} {
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := repo.Create(ctx, newToken("U1", fmt.Sprintf("tok-live-%d", i), baseTime, false)); err != nil {
			t.Fatalf("create live: %v", err)
		}
	}

	removed, err := repo.DeleteExpiredOrTerminal(ctx, now, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 4 {
		t.Fatalf("expected 4 removed (3 expired + 1 old terminal), got %d", removed)
	}
	var remaining int64
	if err := db.Model(&domain.RefreshToken{}).Count(&remaining).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("expected 3 remaining records, got %d", remaining)
	}
}

func TestRefreshTokenRepositorySubjectsOverRememberMeCapAndStats(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRefreshTokenRepoForTest(t)

	for i := 0; i < 3; i++ {
		tok := newToken("U1", fmt.Sprintf("u1-rm-%d", i), baseTime, true)
		tok.OrganizationID = strPtr("org-1")
		if err := repo.Create(ctx, tok); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	u2 := newToken("U2", "u2-rm", baseTime, true)
	u2.OrganizationID = strPtr("org-2")
	if err := repo.Create(ctx, u2); err != nil {
		t.Fatalf("create: %v", err)
	}
	rotated := newToken("U1", "u1-rotated", baseTime, false)
	rotated.Status = domain.TokenStatusRotated
	rotated.OrganizationID = strPtr("org-1")
	if err := repo.Create(ctx, rotated); err != nil {
		t.Fatalf("create: %v", err)
	}

	subjects, err := repo.SubjectsOverRememberMeCap(ctx, 2)
	if err != nil {
		t.Fatalf("subjects over cap: %v", err)
	}
	if len(subjects) != 1 || subjects[0] != "U1" {
		t.Fatalf("unexpected subjects over cap: %v", subjects)
	}

	stats, err := repo.Stats(ctx, domain.StatsScope{OrganizationID: "org-1"}, baseTime)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.ByStatus[domain.TokenStatusActive] != 3 || stats.ByStatus[domain.TokenStatusRotated] != 1 {
		t.Fatalf("unexpected scoped stats: %+v", stats)
	}
	if stats.ActiveRememberMe != 3 {
		t.Fatalf("expected 3 active remember-me, got %d", stats.ActiveRememberMe)
	}

	all, err := repo.Stats(ctx, domain.StatsScope{}, baseTime.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("stats all: %v", err)
	}
	if all.Total != 5 || all.ActiveExpired != 4 {
		t.Fatalf("unexpected global stats: %+v", all)
	}
}

func newRefreshTokenRepoForTest(t *testing.T) (RefreshTokenRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate refresh tokens: %v", err)
	}
	return NewRefreshTokenRepository(db), db
}

func newToken(subjectID, token string, issuedAt time.Time, rememberMe bool) *domain.RefreshToken {
	return &domain.RefreshToken{
		ID:            uuid.NewString(),
		Token:         token,
		SubjectID:     subjectID,
		SubjectEmail:  strings.ToLower(subjectID) + "@clinic.example",
		SubjectRole:   "doctor",
		Status:        domain.TokenStatusActive,
		IssuedAt:      issuedAt,
		ExpiresAt:     issuedAt.Add(7 * 24 * time.Hour),
		MaxUsageCount: 1,
		IsRememberMe:  rememberMe,
	}
}

func strPtr(v string) *string { return &v }
