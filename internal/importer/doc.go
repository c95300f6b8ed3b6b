// Package importer turns an operator-supplied file into point credits.
//
// A run has three stages:
//
//   - Parse: a [Parser] splits the file into [CandidateRecord] values and
//     row-scoped parse errors. Malformed rows never stop the parse.
//   - Apply: the [Applier] looks each candidate's account up and asks the
//     ledger to append the entry and move the balance in one step.
//   - Report: the [Coordinator] folds both error lists and the success count
//     into an [ImportReport].
//
// Row failures are isolated. One bad line produces one [RecordError] and the
// rest of the file is still applied; nothing already applied is rolled back.
// Only a file that cannot be read at all yields a fatal report.
//
// Re-importing the same file credits every row again. Each run stamps its
// import id on the entries it writes, but no deduplication is performed.
package importer
