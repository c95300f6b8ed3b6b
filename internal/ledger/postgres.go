package ledger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PgStore is the PostgreSQL ledger.
//
// Accounts live in the users table (points column holds the running
// balance); entries are appended to points_transactions.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an open connection pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

const findAccountSQL = `SELECT id, points FROM users WHERE id = $1`

// FindAccount implements AccountFinder.
func (s *PgStore) FindAccount(ctx context.Context, accountID string) (Account, error) {
	return findAccount(ctx, s.pool, accountID)
}

func findAccount(ctx context.Context, db DBTX, accountID string) (Account, error) {
	var acc Account
	err := db.QueryRow(ctx, findAccountSQL, accountID).Scan(&acc.ID, &acc.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("find account: %w", err)
	}
	return acc, nil
}

const (
	creditBalanceSQL = `UPDATE users SET points = points + $2 WHERE id = $1 RETURNING points`

	insertEntrySQL = `
		INSERT INTO points_transactions (
			id, user_id, points, observation, transaction_type, import_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// ApplyCredit implements CreditWriter.
//
// The balance update runs first so the account row lock is held for the
// rest of the transaction; concurrent credits to the same account queue
// behind it instead of racing.
func (s *PgStore) ApplyCredit(ctx context.Context, entry Entry) (Account, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	entryID := toPgUUID(entry.ID)
	if !entryID.Valid {
		return Account{}, fmt.Errorf("invalid entry id %q", entry.ID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op once committed

	acc := Account{ID: entry.AccountID}
	err = tx.QueryRow(ctx, creditBalanceSQL, entry.AccountID, entry.Amount).Scan(&acc.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.Exec(ctx, insertEntrySQL,
		entryID,
		entry.AccountID,
		entry.Amount,
		entry.Memo,
		string(entry.Type),
		toPgUUID(entry.ImportID),
		entry.CreatedAt,
	)
	if err != nil {
		return Account{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("commit: %w", err)
	}
	return acc, nil
}

const listEntriesSQL = `
	SELECT id, user_id, points, observation, transaction_type, import_id, created_at
	FROM points_transactions
	WHERE ($1 = '' OR user_id = $1)
	ORDER BY created_at DESC
	LIMIT $2`

// Entries returns the newest entries for an account, newest first.
func (s *PgStore) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, listEntriesSQL, accountID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			id       pgtype.UUID
			importID pgtype.UUID
			typ      string
		)
		if err := rows.Scan(&id, &e.AccountID, &e.Amount, &e.Memo, &typ, &importID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.ID = pgUUIDToString(id)
		e.ImportID = pgUUIDToString(importID)
		e.Type = EntryType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

const insertRunSQL = `
	INSERT INTO import_runs (
		id, file_name, file_kind, success, total_processed, success_count,
		failed_count, errors, ip_address, user_agent, duration_ms, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// RecordRun implements RunRecorder.
func (s *PgStore) RecordRun(ctx context.Context, run ImportRun) error {
	id := toPgUUID(run.ID)
	if !id.Valid {
		return fmt.Errorf("invalid run id %q", run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	var errorsJSON []byte
	if len(run.Errors) > 0 {
		var err error
		errorsJSON, err = json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("marshal run errors: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, insertRunSQL,
		id,
		run.FileName,
		run.FileKind,
		run.Success,
		run.TotalProcessed,
		run.SuccessCount,
		run.FailedCount,
		errorsJSON,
		toPgText(run.IPAddress),
		toPgText(run.UserAgent),
		run.Duration.Milliseconds(),
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}
	return nil
}

const selectRunColumns = `
	SELECT id, file_name, file_kind, success, total_processed, success_count,
	       failed_count, errors, ip_address, user_agent, duration_ms, created_at
	FROM import_runs`

// GetRun implements RunRecorder.
func (s *PgStore) GetRun(ctx context.Context, id string) (ImportRun, error) {
	pgID := toPgUUID(id)
	if !pgID.Valid {
		return ImportRun{}, ErrRunNotFound
	}

	rows, err := s.pool.Query(ctx, selectRunColumns+` WHERE id = $1`, pgID)
	if err != nil {
		return ImportRun{}, fmt.Errorf("get import run: %w", err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return ImportRun{}, err
	}
	if len(runs) == 0 {
		return ImportRun{}, ErrRunNotFound
	}
	return runs[0], nil
}

// ListRuns implements RunRecorder, newest first.
func (s *PgStore) ListRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	rows, err := s.pool.Query(ctx, selectRunColumns+` ORDER BY created_at DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	return scanRuns(rows)
}

func scanRuns(rows pgx.Rows) ([]ImportRun, error) {
	defer rows.Close()

	var out []ImportRun
	for rows.Next() {
		var (
			r          ImportRun
			id         pgtype.UUID
			errorsJSON []byte
			ip, ua     pgtype.Text
			durationMS int64
		)
		err := rows.Scan(&id, &r.FileName, &r.FileKind, &r.Success, &r.TotalProcessed,
			&r.SuccessCount, &r.FailedCount, &errorsJSON, &ip, &ua, &durationMS, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &r.Errors); err != nil {
				return nil, fmt.Errorf("decode run errors: %w", err)
			}
		}
		r.ID = pgUUIDToString(id)
		r.IPAddress = ip.String
		r.UserAgent = ua.String
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// toPgText converts a string to pgtype.Text, invalid when blank.
func toPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// toPgUUID converts a string to pgtype.UUID.
// Returns invalid if the string is empty or not a valid UUID.
func toPgUUID(s string) pgtype.UUID {
	if s == "" {
		return pgtype.UUID{Valid: false}
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

// pgUUIDToString returns "" for an invalid UUID.
func pgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
