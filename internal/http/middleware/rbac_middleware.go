package middleware

import (
	"net/http"

	"github.com/clinicops/authcore/internal/http/response"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/service"
)

// RequireRole gates admin routes on the caller's role claim. It reads the identity
// stored by AuthMiddleware, so it must be mounted after it.
func RequireRole(authz service.RoleAuthorizerInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			switch {
			case !ok:
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
			case authz.Authorize(id.Role) != nil:
				observability.RecordAccessTokenValidation(r.Context(), "forbidden", "role")
				observability.Audit(r, "admin.access_denied", "subject_id", id.SubjectID, "role", id.Role)
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient privilege", map[string]string{"role": id.Role})
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
