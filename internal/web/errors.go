package web

// errors.go renders every failed request the same way: the technical error
// is logged with the request id, the client gets importer.MapError's
// message and support code as JSON or as an HTML alert.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/pointsimport/internal/importer"
	"github.com/JonMunkholm/pointsimport/internal/logging"
	"github.com/JonMunkholm/pointsimport/internal/web/templates"
)

var (
	errRateLimited  = errors.New("rate limit exceeded")
	errNoFile       = errors.New("no file provided")
	errFileTooLarge = errors.New("file too large")
)

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Action  string       `json:"action,omitempty"`
	Code    string       `json:"code"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError names one rejected form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// respondError logs err and writes the mapped message with statusCode.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	respondErrorFields(w, r, err, statusCode, nil)
}

func respondErrorFields(w http.ResponseWriter, r *http.Request, err error, statusCode int, fields []FieldError) {
	userMsg := importer.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		_ = templates.ErrorAlert(userMsg.Message, userMsg.Action, userMsg.Code).Render(r.Context(), w)
		return
	}

	writeJSON(w, statusCode, ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
		Fields:  fields,
	})
}

// writeJSON writes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// wantsHTML reports whether the client asked for HTML (a browser form post
// or an HTMX request). Everything else gets JSON.
func wantsHTML(r *http.Request) bool {
	if r.Header.Get("HX-Request") == "true" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}
