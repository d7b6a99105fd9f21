package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/clinicops/authcore/internal/domain"
	"github.com/clinicops/authcore/internal/http/response"
	"github.com/clinicops/authcore/internal/repository"
	"github.com/clinicops/authcore/internal/service"
)

// writeServiceError maps the service error taxonomy onto the response envelope. Anything
// unrecognized is a store-layer failure and is reported as INTERNAL.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRefreshToken):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid refresh token", nil)
	case errors.Is(err, service.ErrRefreshTokenExpired):
		response.Error(w, r, http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED", "refresh token expired", nil)
	case errors.Is(err, service.ErrUsageLimitExceeded):
		response.Error(w, r, http.StatusUnauthorized, "USAGE_LIMIT_EXCEEDED", "refresh token usage limit exceeded", nil)
	case errors.Is(err, service.ErrInsufficientPrivilege):
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient privilege", nil)
	case errors.Is(err, service.ErrInvalidAccessToken):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
	case service.IsNotFound(err):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "session not found", nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func deviceFromRequest(r *http.Request) domain.DeviceContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return domain.DeviceContext{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

func pageFromQuery(r *http.Request) repository.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return repository.PageRequest{Page: page, PageSize: size}
}
