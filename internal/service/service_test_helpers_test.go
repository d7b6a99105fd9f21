package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/repository"
	"github.com/clinicops/authcore/internal/security"
)

const testAccessSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAuditSink struct {
	mu     sync.Mutex
	events []observability.AuditEvent
}

func (s *recordingAuditSink) Record(_ context.Context, event observability.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingAuditSink) byKind(kind string) []observability.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []observability.AuditEvent
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type testServices struct {
	db         *gorm.DB
	repo       repository.RefreshTokenRepository
	clock      *testClock
	audit      *recordingAuditSink
	jwt        *security.JWTManager
	denylist   *InMemoryAccessDenylist
	quota      *QuotaEnforcer
	tokens     *TokenService
	revocation *RevocationService
	sessions   *SessionService
	cleanup    *CleanupService
	validator  *AccessValidator
}

func newTestServices(t *testing.T, policy config.TokenPolicy) *testServices {
	t.Helper()
	db := newTestDB(t)
	repo := repository.NewRefreshTokenRepository(db)
	clock := newTestClock()
	sink := &recordingAuditSink{}
	jwtMgr := security.NewJWTManager("authcore", "clinicops", testAccessSecret).WithClock(clock.Now)
	denylist := NewInMemoryAccessDenylist().WithClock(clock.Now)
	quota := NewQuotaEnforcer(repo, policy, sink).WithClock(clock.Now)
	return &testServices{
		db:         db,
		repo:       repo,
		clock:      clock,
		audit:      sink,
		jwt:        jwtMgr,
		denylist:   denylist,
		quota:      quota,
		tokens:     NewTokenService(jwtMgr, repo, quota, policy, sink).WithClock(clock.Now),
		revocation: NewRevocationService(repo, denylist, policy, sink).WithClock(clock.Now),
		sessions:   NewSessionService(repo).WithClock(clock.Now),
		cleanup:    NewCleanupService(repo, quota, policy, sink, nil).WithClock(clock.Now),
		validator:  NewAccessValidator(jwtMgr, denylist, sink),
	}
}

func newTestDB(t *testing.T) *gorm.DB {
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
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newMiniredis returns an in-process Redis and a client bound to it. Both are closed at
// the end of the test.
func newMiniredis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testPrincipal(id string) domain.Principal {
	return domain.Principal{
		ID:             id,
		Email:          strings.ToLower(id) + "@clinic.example",
		Role:           "doctor",
		OrganizationID: "org-1",
		BranchID:       "branch-7",
	}
}

func mustIssue(t *testing.T, svc *TokenService, p domain.Principal, dc domain.DeviceContext) *domain.TokenPair {
	t.Helper()
	pair, err := svc.Issue(context.Background(), p, dc)
	if err != nil {
		t.Fatalf("issue for %s: %v", p.ID, err)
	}
	return pair
}

func mustFind(t *testing.T, repo repository.RefreshTokenRepository, token string) *domain.RefreshToken {
	t.Helper()
	rec, err := repo.FindByToken(context.Background(), token)
	if err != nil {
		t.Fatalf("find %s: %v", security.TokenPrefix(token), err)
	}
	return rec
}

func countActive(t *testing.T, db *gorm.DB, subjectID string, rememberMe bool) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.RefreshToken{}).
		Where("subject_id = ? AND status = ? AND is_remember_me = ?", subjectID, domain.TokenStatusActive, rememberMe).
		Count(&n).Error; err != nil {
		t.Fatalf("count active: %v", err)
	}
	return n
}
