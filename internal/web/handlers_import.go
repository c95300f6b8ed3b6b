package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/pointsimport/internal/importer"
	"github.com/JonMunkholm/pointsimport/internal/ledger"
	"github.com/JonMunkholm/pointsimport/internal/logging"
	"github.com/JonMunkholm/pointsimport/internal/web/templates"
)

// formOverhead is the room left for multipart headers and the option fields
// on top of the file size limit.
const formOverhead = 1 << 20

// importForm holds the optional fields of an upload.
type importForm struct {
	Kind         string `form:"kind" validate:"omitempty,oneof=delimited csv tsv txt text spreadsheet xlsx excel"`
	SkipFirstRow string `form:"skipFirstRow" validate:"omitempty,oneof=true false 1 0"`
	Delimiter    string `form:"delimiter" validate:"omitempty,max=4"`
	Encoding     string `form:"encoding" validate:"omitempty,printascii,max=40"`
}

// options merges the form over the configured defaults.
func (f importForm) options(defaultDelimiter, defaultEncoding string) importer.ImportOptions {
	opts := importer.DefaultOptions()
	opts.Delimiter = defaultDelimiter
	opts.Encoding = defaultEncoding

	if f.SkipFirstRow != "" {
		opts.SkipFirstRow, _ = strconv.ParseBool(f.SkipFirstRow)
	}
	switch f.Delimiter {
	case "":
	case "tab", `\t`:
		opts.Delimiter = "\t"
	default:
		opts.Delimiter = f.Delimiter
	}
	if f.Encoding != "" {
		opts.Encoding = f.Encoding
	}
	return opts
}

// importResponse is the JSON body of a finished run. Code and Action are
// set for fatal reports only.
type importResponse struct {
	importer.ImportReport
	Code   string `json:"code,omitempty"`
	Action string `json:"action,omitempty"`
}

// handleImport accepts a multipart upload and runs it to completion.
//
// Form fields: file (required), kind, skipFirstRow, delimiter, encoding.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, errFileTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("invalid request: %w", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > maxSize {
		respondError(w, r, errFileTooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	form := importForm{
		Kind:         r.FormValue("kind"),
		SkipFirstRow: r.FormValue("skipFirstRow"),
		Delimiter:    r.FormValue("delimiter"),
		Encoding:     r.FormValue("encoding"),
	}
	if err := s.validate.Struct(form); err != nil {
		respondErrorFields(w, r, fmt.Errorf("invalid request: %w", err), http.StatusBadRequest, fieldErrors(err))
		return
	}

	kind, err := importer.DetectKind(header.Filename, form.Kind)
	if err != nil {
		respondError(w, r, err, http.StatusUnsupportedMediaType)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusBadRequest)
		return
	}

	if err := s.limiter.Acquire(r.Context()); err != nil {
		w.Header().Set("Retry-After", "30")
		respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	defer s.limiter.Release()

	ctx := withRequestMetadata(r.Context(), r)
	start := time.Now()
	report := s.coordinator.Run(ctx, importer.File{
		Name: header.Filename,
		Kind: kind,
		Data: data,
	}, form.options(s.cfg.Import.DefaultDelimiter, s.cfg.Import.DefaultEncoding))

	s.recordRun(ctx, header.Filename, kind, report, time.Since(start))
	s.respondReport(w, r, report)
}

// recordRun stores the run summary. It outlives a cancelled request so a
// client that disconnects still leaves a history entry.
func (s *Server) recordRun(ctx context.Context, name string, kind importer.FileKind, report importer.ImportReport, d time.Duration) {
	if s.runs == nil {
		return
	}
	run := ledger.ImportRun{
		ID:             report.ImportID,
		FileName:       name,
		FileKind:       string(kind),
		Success:        report.Success,
		TotalProcessed: report.TotalProcessed,
		SuccessCount:   report.SuccessCount,
		FailedCount:    report.FailedCount,
		IPAddress:      importer.IPAddressFromContext(ctx),
		UserAgent:      importer.UserAgentFromContext(ctx),
		Duration:       d,
		CreatedAt:      time.Now().UTC(),
	}
	for _, e := range report.Errors {
		run.Errors = append(run.Errors, ledger.RunError{Row: e.Row, AccountID: e.AccountID, Message: e.Message})
	}

	if err := s.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logging.WithFields(ctx, "import_id", report.ImportID).Warn("failed to record import run", "error", err)
	}
}

func (s *Server) respondReport(w http.ResponseWriter, r *http.Request, report importer.ImportReport) {
	status := http.StatusOK
	resp := importResponse{ImportReport: report}
	if report.Fatal() {
		status = http.StatusUnprocessableEntity
		msg := importer.MapReport(report)
		resp.Code, resp.Action = msg.Code, msg.Action
	}

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = templates.ImportReport(report).Render(r.Context(), w)
		return
	}
	writeJSON(w, status, resp)
}

// queryLimit reads the optional limit parameter. Zero means the store
// default. It writes the error response itself and reports false on a bad
// value.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		respondErrorFields(w, r, fmt.Errorf("invalid request: limit %q", v), http.StatusBadRequest,
			[]FieldError{{Field: "limit", Message: "Must be a non-negative number"}})
		return 0, false
	}
	return n, true
}

// handleListRuns returns recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []ledger.ImportRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns one stored run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")
	if err := s.validate.Var(id, "required,uuid"); err != nil {
		respondErrorFields(w, r, fmt.Errorf("invalid request: import id %q", id), http.StatusBadRequest,
			[]FieldError{{Field: "importID", Message: fieldMessage("uuid")}})
		return
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, ledger.ErrRunNotFound) {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListEntries returns the ledger lines of one account, newest first.
// An account without entries gets an empty list.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := s.validate.Var(accountID, "required,max=255"); err != nil {
		respondErrorFields(w, r, fmt.Errorf("invalid request: account id %q", accountID), http.StatusBadRequest,
			[]FieldError{{Field: "accountID", Message: fieldMessage("max")}})
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.entries.Entries(r.Context(), accountID, limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// fieldErrors lists the rejected fields of a validation failure.
func fieldErrors(err error) []FieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	out := make([]FieldError, len(validationErrors))
	for i, fe := range validationErrors {
		out[i] = FieldError{Field: fe.Field(), Message: fieldMessage(fe.Tag())}
	}
	return out
}

func fieldMessage(tag string) string {
	switch tag {
	case "required":
		return "This field is required"
	case "oneof":
		return "Value is not one of the accepted options"
	case "max":
		return "Value is too long"
	case "printascii":
		return "Value must be printable ASCII"
	case "uuid":
		return "Must be a valid import id"
	}
	return "Invalid value"
}
