package web

// errors.go provides unified error response handling for the web layer.
//
// Handler errors are logged with their technical detail and the request ID,
// then mapped via core.MapError to a user message whose code also picks the
// HTTP status. API routes get JSON, HTMX requests get an alert fragment and
// pages get plain text.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/colextract/internal/core"
	"github.com/JonMunkholm/colextract/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusByCode maps user message codes to HTTP statuses.
var statusByCode = map[string]int{
	"EXT001":  http.StatusConflict,
	"EXT002":  http.StatusConflict,
	"EXT003":  http.StatusServiceUnavailable,
	"EXT004":  http.StatusNotFound,
	"EXT005":  http.StatusBadRequest,
	"EXT006":  http.StatusBadRequest,
	"EXT007":  http.StatusConflict,
	"EXT008":  http.StatusBadRequest,
	"EXT009":  http.StatusBadRequest,
	"EXT010":  http.StatusGatewayTimeout,
	"HIS001":  http.StatusConflict,
	"HIS002":  http.StatusConflict,
	"HIS003":  http.StatusConflict,
	"JRN001":  http.StatusInternalServerError,
	"JRN002":  http.StatusServiceUnavailable,
	"JRN003":  http.StatusNotFound,
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE002": http.StatusBadRequest,
	"FILE003": http.StatusBadRequest,
	"FILE004": http.StatusBadRequest,
	"RATE001": http.StatusTooManyRequests,
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	if errors.Is(err, core.ErrShuttingDown) {
		return http.StatusServiceUnavailable
	}
	if status, ok := statusByCode[core.MapError(err).Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// fail responds to a service error with the status statusFor picks.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable && errors.Is(err, core.ErrTooManyJobs) {
		w.Header().Set("Retry-After", "5")
	}
	s.respondError(w, r, err, status)
}

// respondError handles error responses with user-friendly messages.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	level := slog.LevelWarn
	if statusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	switch {
	case isHTMX(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		_ = templates.ErrorAlert(userMsg.Message, userMsg.Action, userMsg.Code).Render(r.Context(), w)
	case wantsJSON(r):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Error:   userMsg.Message,
			Message: userMsg.Message,
			Action:  userMsg.Action,
			Code:    userMsg.Code,
		})
	default:
		http.Error(w, userMsg.Message+" ("+userMsg.Code+")", statusCode)
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON checks if the client prefers JSON response. API routes default
// to JSON.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json") ||
		strings.HasPrefix(r.URL.Path, "/api/")
}
