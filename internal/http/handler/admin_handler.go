package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/http/middleware"
	"github.com/clinicops/authcore/internal/http/response"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/service"
)

type AdminHandler struct {
	sessions   service.SessionServiceInterface
	revocation service.RevocationServiceInterface
	cleanup    service.CleanupServiceInterface
}

func NewAdminHandler(sessions service.SessionServiceInterface, revocation service.RevocationServiceInterface, cleanup service.CleanupServiceInterface) *AdminHandler {
	return &AdminHandler{sessions: sessions, revocation: revocation, cleanup: cleanup}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := h.sessions.Stats(r.Context(), domain.StatsScope{
		OrganizationID: q.Get("organization_id"),
		BranchID:       q.Get("branch_id"),
		SubjectID:      q.Get("subject_id"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

type revokeSubjectRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) RevokeSubject(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	var req revokeSubjectRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = domain.RevokeReasonAdminForcedSignOut
	}
	subjectID := chi.URLParam(r, "subject_id")
	count, err := h.revocation.RevokeAll(r.Context(), subjectID, actor.SubjectID, reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.subject_revoked", "actor_id", actor.SubjectID, "subject_id", subjectID, "revoked", count)
	response.JSON(w, r, http.StatusOK, map[string]any{"subject_id": subjectID, "revoked": count})
}

func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result := h.cleanup.ForceCleanup(r.Context())
	if actor, ok := middleware.IdentityFromContext(r.Context()); ok {
		observability.Audit(r, "admin.cleanup", "actor_id", actor.SubjectID, "success", result.Success, "removed", result.Removed)
	}
	response.JSON(w, r, http.StatusOK, result)
}
