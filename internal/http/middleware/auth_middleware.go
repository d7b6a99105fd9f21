package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/clinicops/authcore/internal/http/response"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/service"
)

type contextKey string

const (
	IdentityContextKey contextKey = "identity"
)

// AuthMiddleware admits requests carrying an access token the validator accepts and
// stores the validated identity on the request context.
func AuthMiddleware(validator service.AccessValidatorInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				if c, err := r.Cookie("access_token"); err == nil {
					raw = c.Value
				}
			}
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			res := validator.Validate(r.Context(), raw)
			if !res.Valid {
				msg := "invalid access token"
				switch {
				case res.Expired:
					msg = "access token expired"
				case res.Revoked:
					msg = "access token revoked"
				}
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", msg, nil)
				return
			}
			ctx := context.WithValue(r.Context(), IdentityContextKey, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromContext(ctx context.Context) (service.ValidationResult, bool) {
	id, ok := ctx.Value(IdentityContextKey).(service.ValidationResult)
	return id, ok && id.Valid
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
