package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/i18n"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

var kindStatus = map[core.Kind]int{
	core.KindUnknown:         http.StatusInternalServerError,
	core.KindUnauthenticated: http.StatusUnauthorized,
	core.KindNotFound:        http.StatusNotFound,
	core.KindForbidden:       http.StatusForbidden,
	core.KindRestricted:      http.StatusConflict,
	core.KindRateLimited:     http.StatusTooManyRequests,
	core.KindTransient:       http.StatusBadGateway,
	core.KindInvalidState:    http.StatusConflict,
	core.KindVanished:        http.StatusGone,
}

// statusFor maps an error kind onto the HTTP status the control API answers with.
func statusFor(kind core.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError is the boundary where typed errors become a kind plus a localized message.
// Unauthenticated errors clear the session, since only a fresh login recovers from them.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, component string, err error) {
	kind := core.KindOf(err)
	status := statusFor(kind)

	if ctxErr := r.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		s.logger.Debug("Request cancelled", zap.String("component", component), zap.Error(err))
		return
	}

	s.metrics.RecordError(component, kind.String())
	s.logger.Warn("Request failed",
		zap.String("component", component),
		zap.String("kind", kind.String()),
		zap.String("requestID", requestID(r)),
		zap.Error(err))

	if kind == core.KindUnauthenticated && s.services.Sessions != nil {
		if logoutErr := s.services.Sessions.Logout(r.Context()); logoutErr != nil {
			s.logger.Error("Failed to clear session", zap.Error(logoutErr))
		}
	}
	if kind == core.KindRateLimited {
		if after := core.RetryAfterOf(err); after > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(after.Seconds()))))
		}
	}

	localizer := i18n.NewLocalizer(i18n.Match(r.Header.Get("Accept-Language")))
	w.Header().Set("Content-Language", localizer.Language())
	writeJSON(w, status, errorBody{Error: kind.String(), Message: localizer.Error(err)})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: message})
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
