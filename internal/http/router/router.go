package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinicops/authcore/internal/http/handler"
	"github.com/clinicops/authcore/internal/http/middleware"
	"github.com/clinicops/authcore/internal/http/response"
	"github.com/clinicops/authcore/internal/service"
)

type Dependencies struct {
	TokenHandler        *handler.TokenHandler
	SessionHandler      *handler.SessionHandler
	AdminHandler        *handler.AdminHandler
	Validator           service.AccessValidatorInterface
	AdminAuthorizer     service.RoleAuthorizerInterface
	RefreshRateLimitRPM int
	RefreshLimiter      middleware.Limiter
	Readiness           ReadinessFunc
	EnableOTelHTTP      bool
}

// ReadinessFunc reports whether the token store is reachable.
type ReadinessFunc func(ctx context.Context) error

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))

	refreshLimiter := middleware.NewRateLimiter(dep.RefreshLimiter, "refresh", dep.RefreshRateLimitRPM, time.Minute).Middleware()
	authenticated := middleware.AuthMiddleware(dep.Validator)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dep.Readiness(ctx); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "token store is not ready", map[string]string{"error": err.Error()})
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(refreshLimiter).Post("/refresh", dep.TokenHandler.Refresh)
			r.With(authenticated).Post("/logout", dep.TokenHandler.Logout)
			r.With(authenticated).Post("/logout-all", dep.TokenHandler.LogoutAll)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			r.Get("/me/sessions", dep.SessionHandler.List)
			r.Delete("/me/sessions/{token_id}", dep.SessionHandler.Revoke)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticated)
			r.Use(middleware.RequireRole(dep.AdminAuthorizer))
			r.Get("/tokens/stats", dep.AdminHandler.Stats)
			r.Post("/subjects/{subject_id}/revoke", dep.AdminHandler.RevokeSubject)
			r.Post("/cleanup", dep.AdminHandler.Cleanup)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
