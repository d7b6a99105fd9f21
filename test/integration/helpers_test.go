package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/di"
	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/http/handler"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/repository"
	"github.com/clinicops/authcore/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// replica is one API process. Replicas share the token store and Redis.
type replica struct {
	baseURL   string
	tokens    *service.TokenService
	scheduler *service.CleanupScheduler
}

type cluster struct {
	cfg      *config.Config
	db       *gorm.DB
	redis    *miniredis.Miniredis
	replicas []*replica
}

func integrationConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabaseDriver:          "sqlite",
		DatabaseURL:             fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		JWTIssuer:               "authcore",
		JWTAudience:             "clinicops",
		JWTAccessSecret:         "0123456789abcdef0123456789abcdef",
		JWTAccessTTL:            15 * time.Minute,
		RefreshTTL:              24 * time.Hour,
		RememberMeRefreshTTL:    72 * time.Hour,
		RefreshMaxUsageCount:    1,
		RefreshMaxPerSubject:    5,
		RememberMeMaxPerSubject: 5,
		AccessDenylistEnabled:   true,
		AdminRoles:              []string{"admin"},
		CleanupSweepInterval:    time.Hour,
		CleanupTrimInterval:     24 * time.Hour,
		CleanupLockTTL:          time.Minute,
		RefreshRateLimitRPM:     0,
	}
}

func newCluster(t *testing.T, n int) *cluster {
	t.Helper()
	cfg := integrationConfig(t)
	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()

	db, closeDB, err := di.ProvideDB(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(closeDB)

	c := &cluster{cfg: cfg, db: db, redis: mr}
	for i := 0; i < n; i++ {
		c.replicas = append(c.replicas, newReplica(t, cfg, db))
	}
	return c
}

func newReplica(t *testing.T, cfg *config.Config, db *gorm.DB) *replica {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, closeRedis := di.ProvideRedis(cfg)
	t.Cleanup(closeRedis)

	hook := observability.NewLogAuditSink(logger)
	policy := di.ProvideTokenPolicy(cfg)
	jwtMgr := di.ProvideJWTManager(cfg)
	repo := repository.NewRefreshTokenRepository(db)
	denylist := di.ProvideAccessDenylist(cfg, client)
	quota := service.NewQuotaEnforcer(repo, policy, hook)
	tokens := service.NewTokenService(jwtMgr, repo, quota, policy, hook)
	revocation := service.NewRevocationService(repo, denylist, policy, hook)
	sessions := service.NewSessionService(repo)
	cleanup := service.NewCleanupService(repo, quota, policy, hook, logger)

	h := di.ProvideRouter(cfg, db,
		handler.NewTokenHandler(tokens, revocation),
		handler.NewSessionHandler(sessions, revocation),
		handler.NewAdminHandler(sessions, revocation, cleanup),
		service.NewAccessValidator(jwtMgr, denylist, hook),
		di.ProvideRoleAuthorizer(cfg),
	)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &replica{
		baseURL:   srv.URL,
		tokens:    tokens,
		scheduler: di.ProvideCleanupScheduler(cleanup, di.ProvideJobLocker(client), cfg, logger),
	}
}

func (r *replica) issue(t *testing.T, subjectID, role string) *domain.TokenPair {
	t.Helper()
	pair, err := r.tokens.Issue(context.Background(), domain.Principal{
		ID:    subjectID,
		Email: strings.ToLower(subjectID) + "@clinic.example",
		Role:  role,
	}, domain.DeviceContext{DeviceID: "ward-pc"})
	if err != nil {
		t.Fatalf("issue %s: %v", subjectID, err)
	}
	return pair
}

func doJSON(t *testing.T, method, url string, body any, accessToken string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
	return resp, env
}
