package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicops/authcore/internal/http/middleware"
	"github.com/clinicops/authcore/internal/http/response"
	"github.com/clinicops/authcore/internal/service"
)

type SessionHandler struct {
	sessions   service.SessionServiceInterface
	revocation service.RevocationServiceInterface
}

func NewSessionHandler(sessions service.SessionServiceInterface, revocation service.RevocationServiceInterface) *SessionHandler {
	return &SessionHandler{sessions: sessions, revocation: revocation}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	includeExpired, _ := strconv.ParseBool(r.URL.Query().Get("include_expired"))
	page, err := h.sessions.ListActiveTokens(r.Context(), id.SubjectID, includeExpired, pageFromQuery(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	tokenID := chi.URLParam(r, "token_id")
	revoked, err := h.revocation.RevokeSession(r.Context(), id.SubjectID, tokenID, id.SubjectID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"token_id": tokenID, "revoked": revoked})
}
