package importer

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error", nil, ""},
		{"file too large", errors.New("file too large: 12MB exceeds limit"), "FILE001"},
		{"unsupported kind", fmt.Errorf("%w: %q", ErrUnsupportedKind, "pdf"), "FILE002"},
		{"unsupported encoding", fmt.Errorf("%w %q", ErrUnsupportedEncoding, "x"), "FILE003"},
		{"undecodable", fmt.Errorf("%w: input is not valid UTF-8", ErrUndecodable), "FILE003"},
		{"no file", errors.New("no file provided"), "FILE004"},
		{"empty file", errEmptyFile, "FILE005"},
		{"no sheets", errNoSheets, "FILE006"},
		{"busy", ErrTooManyImports, "IMP001"},
		{"deadline", errors.New("context deadline exceeded"), "IMP002"},
		{"cancelled", errors.New("context canceled"), "IMP003"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), "DB004"},
		{"rate limit", errors.New("Rate limit exceeded"), "RATE001"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err).Code; got != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got, tt.wantCode)
			}
		})
	}
}

func TestMapReport(t *testing.T) {
	fatal := fatalReport("id", fmt.Errorf("%w: input is not valid UTF-8", ErrUndecodable))
	if got := MapReport(fatal).Code; got != "FILE003" {
		t.Errorf("fatal encoding report code = %q, want FILE003", got)
	}

	corrupt := fatalReport("id", errors.New("open workbook: zip: not a valid zip file"))
	if got := MapReport(corrupt).Code; got != "FILE006" {
		t.Errorf("corrupt workbook report code = %q, want FILE006", got)
	}

	partial := ImportReport{FailedCount: 1, Errors: []RecordError{{Row: 2, AccountID: "u", Message: MsgInvalidPoints, Kind: KindParse}}}
	if got := MapReport(partial); got != (UserMessage{}) {
		t.Errorf("non-fatal report mapped to %+v", got)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyImports)
	want := "System is busy processing other imports (Code: IMP001). Wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if !IsUserFacing(ErrTooManyImports) {
		t.Error("ErrTooManyImports should be user facing")
	}
	if IsUserFacing(errors.New("segfault in sector 7")) {
		t.Error("unmatched error should not be user facing")
	}
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
}
