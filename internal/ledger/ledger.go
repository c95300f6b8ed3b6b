// Package ledger holds the point ledger the import pipeline writes to.
//
// The ledger owns two things the importer only references: the account
// store (consulted for lookups) and the append-only list of point entries.
// Every credit is applied through [CreditWriter.ApplyCredit], which appends
// the entry and moves the account balance as a single atomic unit.
//
// Two implementations are provided:
//
//   - [PgStore]: PostgreSQL via pgx, one transaction per credit.
//   - [MemoryStore]: in-process, used by tests and the memory backend.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrAccountNotFound is returned when the referenced account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// ErrRunNotFound is returned when an import run id is unknown.
var ErrRunNotFound = errors.New("import run not found")

// EntryType classifies why a ledger entry was written.
type EntryType string

const (
	// EntryImport marks credits applied by a bulk file import.
	EntryImport EntryType = "import"
)

// Account is a point account as seen by the ledger.
type Account struct {
	ID      string
	Balance int64
}

// Entry is one immutable ledger line. Once applied it is never updated.
type Entry struct {
	ID        string    `json:"id"`
	AccountID string    `json:"userId"`
	Amount    int64     `json:"amount"`
	Memo      string    `json:"memo,omitempty"`
	Type      EntryType `json:"type"`
	ImportID  string    `json:"importId,omitempty"` // run that produced the entry, empty for non-import credits
	CreatedAt time.Time `json:"createdAt"`
}

// AccountFinder looks up accounts by id.
// Implementations return ErrAccountNotFound when the account does not exist.
type AccountFinder interface {
	FindAccount(ctx context.Context, accountID string) (Account, error)
}

// CreditWriter applies a single credit.
//
// ApplyCredit must append the entry and update the account balance
// atomically: either both happen or neither does. It returns the account
// state after the credit.
type CreditWriter interface {
	ApplyCredit(ctx context.Context, entry Entry) (Account, error)
}

// EntryLister reads ledger history, newest first. An empty accountID lists
// every account.
type EntryLister interface {
	Entries(ctx context.Context, accountID string, limit int) ([]Entry, error)
}

// Store is the full ledger surface used by the binaries.
type Store interface {
	AccountFinder
	CreditWriter
	RunRecorder
	EntryLister
}
