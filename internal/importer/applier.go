package importer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/pointsimport/internal/ledger"
)

// Applier validates one candidate against the account store and writes the
// credit to the ledger.
//
// Work for the same account is serialized, so lookup and apply for one
// account never overlap even when the coordinator runs a worker pool.
type Applier struct {
	accounts ledger.AccountFinder
	credits  ledger.CreditWriter
	locks    *accountLocks

	newID func() string
	now   func() time.Time
}

// NewApplier creates an Applier over the given ledger collaborators.
func NewApplier(accounts ledger.AccountFinder, credits ledger.CreditWriter) *Applier {
	return &Applier{
		accounts: accounts,
		credits:  credits,
		locks:    newAccountLocks(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Apply implements RecordApplier.
//
// A RecordError with KindTimeout means ctx ended before the credit was
// written; the row was not applied and may be retried.
func (a *Applier) Apply(ctx context.Context, rec CandidateRecord) *RecordError {
	unlock := a.locks.lock(rec.AccountID)
	defer unlock()

	if ctx.Err() != nil {
		return a.failure(ctx, rec, KindTimeout, ctx.Err())
	}

	if _, err := a.accounts.FindAccount(ctx, rec.AccountID); err != nil {
		return a.failure(ctx, rec, KindLookup, err)
	}

	entry := ledger.Entry{
		ID:        a.newID(),
		AccountID: rec.AccountID,
		Amount:    rec.Points,
		Memo:      rec.Note,
		Type:      ledger.EntryImport,
		ImportID:  ImportIDFromContext(ctx),
		CreatedAt: a.now(),
	}
	if _, err := a.credits.ApplyCredit(ctx, entry); err != nil {
		return a.failure(ctx, rec, KindApply, err)
	}
	return nil
}

func (a *Applier) failure(ctx context.Context, rec CandidateRecord, kind ErrorKind, err error) *RecordError {
	msg := err.Error()
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		msg = MsgAccountNotFound
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		kind = KindTimeout
	}
	return &RecordError{
		Row:       rec.Row,
		AccountID: accountLabel(rec.AccountID),
		Message:   msg,
		Kind:      kind,
	}
}

// accountLocks hands out one mutex per account id. Entries are dropped once
// no goroutine holds or waits on them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

func (l *accountLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	al, ok := l.locks[id]
	if !ok {
		al = &accountLock{}
		l.locks[id] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()

		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// size reports how many account locks are live.
func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
