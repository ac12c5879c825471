package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/msspconsole/console/internal/logsource"
	"github.com/msspconsole/console/internal/model"
	"github.com/msspconsole/console/internal/server/middleware"
	"github.com/msspconsole/console/internal/service"
	"github.com/msspconsole/console/internal/store"
)

const internalErrorMessage = "An internal error occurred"

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeFailure writes the {success:false, message} envelope.
func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.StatusResponse{Success: false, Message: message})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// messages overrides the default text per error class for one endpoint.
type messages struct {
	notFound  string
	duplicate string
	forbidden string
}

// writeServiceError maps a service or store error onto the response.
// Unrecognized errors are logged and reported as a generic 500 so that no
// internal detail reaches the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, msgs messages) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeFailure(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, service.ErrAccountBlocked):
		writeJSON(w, http.StatusForbidden, model.StatusResponse{
			Success: false,
			Message: "Your account has been blocked by the administrator. Please contact support.",
			Blocked: true,
		})
	case errors.Is(err, service.ErrInvalidMFAToken):
		writeFailure(w, http.StatusUnauthorized, "Invalid MFA token")
	case errors.Is(err, service.ErrMFAAlreadyEnrolled):
		writeFailure(w, http.StatusConflict, "MFA is already set up for this account")
	case errors.Is(err, service.ErrTooManyAttempts):
		writeFailure(w, http.StatusTooManyRequests, "Too many failed attempts, please try again later")
	case errors.Is(err, service.ErrForbidden):
		writeFailure(w, http.StatusForbidden, orDefault(msgs.forbidden, "Access denied"))
	case errors.Is(err, service.ErrInvalidInput):
		writeFailure(w, http.StatusBadRequest, inputMessage(err))
	case errors.Is(err, store.ErrDuplicate):
		writeFailure(w, http.StatusConflict, orDefault(msgs.duplicate, "Resource already exists"))
	case errors.Is(err, store.ErrNotFound):
		writeFailure(w, http.StatusNotFound, orDefault(msgs.notFound, "Not found"))
	case errors.Is(err, logsource.ErrNotConfigured):
		writeFailure(w, http.StatusNotFound, orDefault(msgs.notFound, "Not found"))
	case errors.Is(err, logsource.ErrUpstream):
		logger.Warn("log source failed", "path", r.URL.Path, "error", err,
			"request_id", middleware.GetRequestID(r.Context()))
		writeFailure(w, http.StatusBadGateway, "Failed to fetch data from the log source")
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", middleware.GetRequestID(r.Context()))
		writeFailure(w, http.StatusInternalServerError, internalErrorMessage)
	}
}

// inputMessage turns "invalid input: all fields are required" into
// "All fields are required".
func inputMessage(err error) string {
	msg, ok := strings.CutPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
	if !ok || msg == "" {
		return "Invalid request"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// actorFor resolves the authenticated caller against the store.
func actorFor(r *http.Request, scope *service.Scope) (*service.Actor, error) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		return nil, service.ErrForbidden
	}
	return scope.Resolve(r.Context(), p.Username)
}
