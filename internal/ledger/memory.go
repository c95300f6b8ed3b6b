package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// maxMemoryRuns bounds the run history kept by MemoryStore.
const maxMemoryRuns = 200

// MemoryStore is an in-process ledger.
//
// A single mutex guards accounts and entries, so every ApplyCredit is
// trivially atomic and concurrent credits to one account never lose updates.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	entries  []Entry
	runs     []ImportRun

	// failApply, when set, is consulted before each credit and lets tests
	// simulate a store that rejects writes.
	failApply func(Entry) error
}

// NewMemoryStore creates a store seeded with zero-balance accounts.
func NewMemoryStore(accountIDs ...string) *MemoryStore {
	m := &MemoryStore{
		accounts: make(map[string]*Account, len(accountIDs)),
	}
	for _, id := range accountIDs {
		m.accounts[id] = &Account{ID: id}
	}
	return m
}

// AddAccount creates or replaces an account with the given balance.
func (m *MemoryStore) AddAccount(id string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = &Account{ID: id, Balance: balance}
}

// FailApplyWith installs a hook that can reject credits before they are written.
// Pass nil to clear it.
func (m *MemoryStore) FailApplyWith(fn func(Entry) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failApply = fn
}

// FindAccount implements AccountFinder.
func (m *MemoryStore) FindAccount(ctx context.Context, accountID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *acc, nil
}

// ApplyCredit implements CreditWriter.
func (m *MemoryStore) ApplyCredit(ctx context.Context, entry Entry) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[entry.AccountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}

	if m.failApply != nil {
		if err := m.failApply(entry); err != nil {
			return Account{}, fmt.Errorf("insert ledger entry: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	m.entries = append(m.entries, entry)
	acc.Balance += entry.Amount
	return *acc, nil
}

// Entries returns the newest entries for an account, newest first.
// An empty accountID returns entries for every account.
func (m *MemoryStore) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = normalizeLimit(limit)
	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if accountID == "" || m.entries[i].AccountID == accountID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// Balance returns the current balance, or false if the account is unknown.
func (m *MemoryStore) Balance(accountID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountID]
	if !ok {
		return 0, false
	}
	return acc.Balance, true
}

// EntryCount returns the number of entries written so far.
func (m *MemoryStore) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RecordRun implements RunRecorder. The oldest runs are dropped once the
// history exceeds maxMemoryRuns.
func (m *MemoryStore) RecordRun(ctx context.Context, run ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	m.runs = append(m.runs, run)
	if len(m.runs) > maxMemoryRuns {
		m.runs = m.runs[len(m.runs)-maxMemoryRuns:]
	}
	return nil
}

// GetRun implements RunRecorder.
func (m *MemoryStore) GetRun(ctx context.Context, id string) (ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return ImportRun{}, ErrRunNotFound
}

// ListRuns implements RunRecorder, newest first.
func (m *MemoryStore) ListRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	m.mu.Lock()
	runs := make([]ImportRun, len(m.runs))
	copy(runs, m.runs)
	m.mu.Unlock()

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	limit = normalizeLimit(limit)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
