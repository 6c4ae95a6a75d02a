package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bilancio/internal/auth"
	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/middleware/trace"
	"bilancio/internal/services"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps a facade error to its HTTP status, message and field.
func statusOf(err error) (int, string, string) {
	var (
		verr    *core.ValidationError
		failure *services.SyncFailure
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error(), verr.Field
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidMonthKey),
		errors.Is(err, core.ErrInvalidInviteStatus),
		errors.Is(err, core.ErrInvalidAmount):
		return http.StatusBadRequest, err.Error(), ""
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "sign in required", ""
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden, core.PermissionDeniedMessage, ""
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not found", ""
	case errors.Is(err, core.ErrStatusAlreadyResolved):
		return http.StatusConflict, core.ErrStatusAlreadyResolved.Error(), ""
	case errors.Is(err, services.ErrSyncDisabled),
		errors.Is(err, services.ErrExportDisabled):
		return http.StatusServiceUnavailable, err.Error(), ""
	case errors.As(err, &failure):
		return http.StatusBadGateway, failure.Error(), ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out", ""
	}
	return http.StatusInternalServerError, "internal error", ""
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, field := statusOf(err)
	if status >= 500 {
		errorType := applog.ErrorTypeInternal
		if status == http.StatusBadGateway || status == http.StatusGatewayTimeout {
			errorType = applog.ErrorTypeSync
		}
		applog.FromContext(r.Context()).ErrorType(r.Context(), "Request failed", err, errorType,
			applog.FieldPath, r.URL.Path)
	}
	writeJSON(w, status, errorResponse{Error: msg, Field: field, RequestID: trace.FromRequest(r)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, r.PathValue("id"))
	}
	return id, nil
}

// queryDate parses an optional YYYY-MM-DD query parameter as UTC midnight.
func queryDate(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", errBadRequest, name)
	}
	return t, nil
}
