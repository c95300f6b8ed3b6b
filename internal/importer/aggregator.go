package importer

import (
	"sort"
	"sync"
)

// aggregator collects per-record outcomes for one run. Workers report into
// it concurrently.
type aggregator struct {
	mu        sync.Mutex
	succeeded int
	failed    []RecordError
	skipped   []int // rows never applied because the run ended
}

func (a *aggregator) succeed() {
	a.mu.Lock()
	a.succeeded++
	a.mu.Unlock()
}

func (a *aggregator) fail(e RecordError) {
	a.mu.Lock()
	a.failed = append(a.failed, e)
	a.mu.Unlock()
}

func (a *aggregator) skip(row int) {
	a.mu.Lock()
	a.skipped = append(a.skipped, row)
	a.mu.Unlock()
}

// report folds parse errors and the collected outcomes into a report.
// endMessage labels the trailing error used when some rows were skipped.
func (a *aggregator) report(importID string, parsed ParseResult, endMessage string) ImportReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	applyErrs := make([]RecordError, len(a.failed))
	copy(applyErrs, a.failed)
	sort.SliceStable(applyErrs, func(i, j int) bool { return applyErrs[i].Row < applyErrs[j].Row })

	errs := make([]RecordError, 0, len(parsed.Errors)+len(applyErrs)+1)
	errs = append(errs, parsed.Errors...)
	errs = append(errs, applyErrs...)

	r := ImportReport{
		ImportID:       importID,
		TotalProcessed: len(parsed.Candidates) + len(parsed.Errors),
		SuccessCount:   a.succeeded,
		FailedCount:    len(parsed.Errors) + len(applyErrs),
	}

	if n := len(a.skipped); n > 0 {
		first := a.skipped[0]
		for _, row := range a.skipped[1:] {
			if row < first {
				first = row
			}
		}
		errs = append(errs, RecordError{
			Row:       first,
			AccountID: UnknownAccount,
			Message:   endMessage,
			Kind:      KindTimeout,
		})
		r.Unprocessed = n
		r.FailedCount++
		// The skipped rows count once, as the trailing error.
		r.TotalProcessed = r.SuccessCount + r.FailedCount
	}

	r.Errors = errs
	r.Success = r.FailedCount == 0
	return r
}
