package importer

// error_messages.go maps technical failures to operator-facing messages with
// a support code. Row-level RecordErrors keep their own short messages;
// this mapping is for failures a caller shows about the request as a whole
// (rejected upload, fatal report, busy server).
//
// Codes by category:
//
//	FILE001 file too large          "file too large"
//	FILE002 unsupported file kind   "unsupported file kind"
//	FILE003 encoding error          "encoding error", "unsupported encoding"
//	FILE004 no file                 "no file provided"
//	FILE005 empty file              "empty file"
//	FILE006 unreadable workbook     "open workbook", "workbook has no sheets", "read sheet"
//	IMP001  system busy             "too many imports"
//	IMP002  run timed out           "import timed out", "context deadline exceeded"
//	IMP003  run cancelled           "import cancelled", "context canceled"
//	IMP004  unknown run             "import run not found"
//	REQ001  invalid request         "invalid request"
//	DB004   connection refused      "connection refused"
//	DB005   connection reset        "connection reset"
//	DB007   deadlock                "deadlock"
//	RATE001 rate limited            "rate limit"
//	ERR000  anything else
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns are listed before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage is an operator-facing description of a failure.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// File errors
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller files", "FILE001"}},
	{"unsupported file kind", UserMessage{"File type is not supported", "Upload a .csv or .xlsx file", "FILE002"}},
	{"unsupported encoding", UserMessage{"Text encoding is not supported", "Save the file as UTF-8 or pick a known encoding", "FILE003"}},
	{"encoding error", UserMessage{"File contains invalid characters", "Save the file as UTF-8 or choose its encoding", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Select a file to import", "FILE004"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Upload a file with at least one data row", "FILE005"}},
	{"workbook has no sheets", UserMessage{"Spreadsheet has no worksheets", "Put the data on the first worksheet", "FILE006"}},
	{"open workbook", UserMessage{"Spreadsheet could not be read", "Save it as .xlsx and try again", "FILE006"}},
	{"read sheet", UserMessage{"Spreadsheet could not be read", "Save it as .xlsx and try again", "FILE006"}},

	// Import run errors
	{"too many imports", UserMessage{"System is busy processing other imports", "Wait a moment and try again", "IMP001"}},
	{"import timed out", UserMessage{"Import did not finish in time", "Import the remaining rows in a smaller file", "IMP002"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "IMP002"}},
	{"import cancelled", UserMessage{"Import was cancelled", "Import the remaining rows when ready", "IMP003"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP003"}},
	{"import run not found", UserMessage{"Import not found", "Check the import id", "IMP004"}},

	{"invalid request", UserMessage{"Request is invalid", "Check the submitted fields", "REQ001"}},

	// Database connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Unknown
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	return mapMessage(err.Error())
}

// MapReport returns the message for a fatal report, or the zero value when
// the report is not fatal.
func MapReport(r ImportReport) UserMessage {
	if !r.Fatal() {
		return UserMessage{}
	}
	return mapMessage(r.Errors[0].Message)
}

func mapMessage(s string) UserMessage {
	s = strings.ToLower(s)
	for _, ep := range errorPatterns {
		if strings.Contains(s, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
