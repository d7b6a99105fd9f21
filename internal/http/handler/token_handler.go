package handler

import (
	"net/http"
	"strings"

	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/http/middleware"
	"github.com/clinicops/authcore/internal/http/response"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/service"
)

type TokenHandler struct {
	tokens     service.TokenServiceInterface
	revocation service.RevocationServiceInterface
}

func NewTokenHandler(tokens service.TokenServiceInterface, revocation service.RevocationServiceInterface) *TokenHandler {
	return &TokenHandler{tokens: tokens, revocation: revocation}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *TokenHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "refresh_token is required", nil)
		return
	}
	pair, err := h.tokens.Redeem(r.Context(), req.RefreshToken, deviceFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *TokenHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	revoked, err := h.revocation.RevokeOne(r.Context(), req.RefreshToken, id.SubjectID, domain.RevokeReasonLogout)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout", "subject_id", id.SubjectID, "revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (h *TokenHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	count, err := h.revocation.RevokeAll(r.Context(), id.SubjectID, id.SubjectID, domain.RevokeReasonLogoutEverywhere)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout_all", "subject_id", id.SubjectID, "revoked", count)
	response.JSON(w, r, http.StatusOK, map[string]int64{"revoked": count})
}
