package ledger

// runs.go keeps the history of import runs.
//
// A run record is written by the caller after the pipeline returns its
// report. The history is informational: nothing in the pipeline reads it
// back, so re-submitting the same file is not detected here.

import (
	"context"
	"time"
)

// RunError mirrors one failed row of a stored run.
type RunError struct {
	Row       int    `json:"row"`
	AccountID string `json:"userId"`
	Message   string `json:"message"`
}

// ImportRun is the persisted summary of one import.
type ImportRun struct {
	ID             string        `json:"id"`
	FileName       string        `json:"fileName"`
	FileKind       string        `json:"fileKind"`
	Success        bool          `json:"success"`
	TotalProcessed int           `json:"totalProcessed"`
	SuccessCount   int           `json:"successCount"`
	FailedCount    int           `json:"failedCount"`
	Errors         []RunError    `json:"errors,omitempty"`
	IPAddress      string        `json:"ipAddress,omitempty"`
	UserAgent      string        `json:"userAgent,omitempty"`
	Duration       time.Duration `json:"durationNs"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// RunRecorder stores and lists import runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run ImportRun) error
	GetRun(ctx context.Context, id string) (ImportRun, error)
	ListRuns(ctx context.Context, limit int) ([]ImportRun, error)
}

// DefaultRunListLimit caps ListRuns when the caller passes a non-positive limit.
const DefaultRunListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultRunListLimit
	}
	return limit
}
