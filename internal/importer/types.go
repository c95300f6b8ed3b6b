package importer

import (
	"context"
	"fmt"
)

// Row-level messages reported to the operator.
const (
	MsgInvalidRowFormat = "invalid row format"
	MsgInvalidPoints    = "points must be a valid number"
	MsgAccountNotFound  = "account not found"
	MsgTimedOut         = "import timed out"
	MsgCancelled        = "import cancelled"

	// UnknownAccount stands in for the account id when none could be read.
	UnknownAccount = "unknown"

	fatalPrefix = "could not process file: "
)

// ImportOptions controls how a file is read. It is fixed for a run.
type ImportOptions struct {
	// SkipFirstRow drops the first physical line (the header).
	SkipFirstRow bool

	// Delimiter separates fields in delimited text.
	Delimiter string

	// Encoding is a WHATWG/IANA label such as "windows-1252". Empty means
	// strict UTF-8.
	Encoding string
}

// DefaultOptions returns header skipping on, comma delimiter, UTF-8.
func DefaultOptions() ImportOptions {
	return ImportOptions{
		SkipFirstRow: true,
		Delimiter:    ",",
	}
}

func (o ImportOptions) delimiter() string {
	if o.Delimiter == "" {
		return ","
	}
	return o.Delimiter
}

// CandidateRecord is one parsed row that still has to be validated and applied.
type CandidateRecord struct {
	Row       int // 1-based physical line (or sheet row)
	AccountID string
	Points    int64
	Note      string
	HasNote   bool
}

// ErrorKind says which stage produced a RecordError.
type ErrorKind string

const (
	KindParse   ErrorKind = "parse"
	KindLookup  ErrorKind = "lookup"
	KindApply   ErrorKind = "apply"
	KindFatal   ErrorKind = "fatal"
	KindTimeout ErrorKind = "timeout"
)

// RecordError describes one failed row. Every stage reports failures in
// this shape.
type RecordError struct {
	Row       int       `json:"row"`
	AccountID string    `json:"userId"`
	Message   string    `json:"message"`
	Kind      ErrorKind `json:"-"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("row %d (%s): %s", e.Row, e.AccountID, e.Message)
}

// ImportReport is the outcome of one run.
//
// For any report that is not fatal:
//
//	TotalProcessed == SuccessCount + FailedCount
//	len(Errors)    == FailedCount
//	Success        == (FailedCount == 0)
//
// Errors lists parse errors first, then apply errors ordered by row. A row
// that failed to parse never reaches the apply stage, so the two groups do
// not interleave in file order.
//
// A fatal report has a single row-0 error, FailedCount 1 and
// TotalProcessed 0.
type ImportReport struct {
	ImportID       string        `json:"importId"`
	Success        bool          `json:"success"`
	TotalProcessed int           `json:"totalProcessed"`
	SuccessCount   int           `json:"successCount"`
	FailedCount    int           `json:"failedCount"`
	Unprocessed    int           `json:"unprocessed,omitempty"`
	Errors         []RecordError `json:"errors"`
}

// Fatal reports whether the file could not be processed at all.
func (r ImportReport) Fatal() bool {
	return len(r.Errors) == 1 && r.Errors[0].Kind == KindFatal
}

// fatalReport builds the report for a file that could not be read.
func fatalReport(importID string, err error) ImportReport {
	return ImportReport{
		ImportID:    importID,
		Success:     false,
		FailedCount: 1,
		Errors: []RecordError{{
			Row:       0,
			AccountID: UnknownAccount,
			Message:   fatalPrefix + err.Error(),
			Kind:      KindFatal,
		}},
	}
}

// ParseResult is what a Parser hands back.
type ParseResult struct {
	Candidates []CandidateRecord
	Errors     []RecordError
}

// Parser turns raw file content into candidates and row-scoped errors.
// It returns an error only when the content cannot be read at all.
type Parser interface {
	Parse(content []byte, opts ImportOptions) (ParseResult, error)
}

// RecordApplier validates and applies a single candidate. A nil result
// means the credit was written.
type RecordApplier interface {
	Apply(ctx context.Context, rec CandidateRecord) *RecordError
}

// File is the input of a run.
type File struct {
	Name string
	Kind FileKind // empty means detect from Name
	Data []byte
}
