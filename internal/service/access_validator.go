package service

import (
	"context"
	"time"

	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/security"
)

type ValidationResult struct {
	Valid          bool
	SubjectID      string
	Email          string
	Role           string
	OrganizationID string
	BranchID       string
	TokenID        string
	Expired        bool
	Revoked        bool
}

// AccessValidator checks access tokens by signature, expiry and claim shape alone. It
// never reads the credential store, so revoking refresh tokens leaves issued access
// tokens valid until they expire, unless a subject denylist is configured.
type AccessValidator struct {
	jwtMgr   *security.JWTManager
	denylist AccessDenylist
	audit    auditor
}

func NewAccessValidator(jwtMgr *security.JWTManager, denylist AccessDenylist, hook observability.AuditHook) *AccessValidator {
	if denylist == nil {
		denylist = NewNoopAccessDenylist()
	}
	return &AccessValidator{
		jwtMgr:   jwtMgr,
		denylist: denylist,
		audit:    newAuditor(hook, time.Now),
	}
}

func (v *AccessValidator) Validate(ctx context.Context, raw string) ValidationResult {
	claims, err := v.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		expired := security.IsExpired(err)
		outcome := "invalid"
		if expired {
			outcome = "expired"
		}
		observability.RecordAccessTokenValidation(ctx, outcome, "jwt")
		v.audit.security(ctx, AuditAccessRejected, "access token rejected", "", map[string]string{
			"outcome": outcome,
		})
		return ValidationResult{Expired: expired}
	}

	result := ValidationResult{
		Valid:          true,
		SubjectID:      claims.Subject,
		Email:          claims.Email,
		Role:           claims.Role,
		OrganizationID: claims.OrganizationID,
		BranchID:       claims.BranchID,
		TokenID:        claims.ID,
	}

	before, denied, err := v.denylist.DeniedBefore(ctx, claims.Subject)
	if err != nil {
		// Fail open when the denylist cannot be read.
		observability.RecordAccessTokenValidation(ctx, "denylist_unavailable", "denylist")
		v.audit.security(ctx, AuditDenylistUnreadable, "access denylist unavailable", claims.Subject, nil)
		return result
	}
	if issued := claims.IssuedAtTime(); denied && !issued.IsZero() && !issued.After(before) {
		observability.RecordAccessTokenValidation(ctx, "revoked", "denylist")
		v.audit.security(ctx, AuditAccessRejected, "access token revoked", claims.Subject, map[string]string{
			"outcome":  "revoked",
			"token_id": claims.ID,
		})
		return ValidationResult{SubjectID: claims.Subject, Revoked: true}
	}

	observability.RecordAccessTokenValidation(ctx, "valid", "jwt")
	return result
}
