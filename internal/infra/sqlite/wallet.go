package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/indicompute/indicompute/internal/domain"
)

// ─── Wallet Ledger ──────────────────────────────────────────────────────────

// EnsureAccount creates an empty account if none exists yet.
func (c *Conn) EnsureAccount(ctx context.Context, ownerID int64, currency string, at time.Time) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO accounts (owner_id, balance, currency, updated_at) VALUES (?, 0, ?, ?)
		 ON CONFLICT(owner_id) DO NOTHING`,
		ownerID, currency, at.Unix(),
	)
	return err
}

// GetAccount returns an account or domain.ErrNotFound.
func (c *Conn) GetAccount(ctx context.Context, ownerID int64) (*domain.Account, error) {
	var a domain.Account
	var balance, updatedAt int64
	err := c.q.QueryRowContext(ctx,
		`SELECT owner_id, balance, currency, updated_at FROM accounts WHERE owner_id = ?`, ownerID,
	).Scan(&a.OwnerID, &balance, &a.Currency, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Balance = domain.Amount(balance)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

// ApplyEntry moves an account balance and appends the matching transaction
// row. It only exists on *Tx: the balance update and the row must commit
// together. The account must exist (see EnsureAccount).
//
// The update is a compare-and-set against the balance read in the same
// transaction. A debit past zero is domain.ErrInsufficientFunds; a credit past
// the largest representable balance is domain.ErrInvalidAmount.
func (t *Tx) ApplyEntry(ctx context.Context, e domain.Transaction) (*domain.Transaction, error) {
	if e.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if e.Kind != domain.EntryDebit && e.Kind != domain.EntryCredit {
		return nil, fmt.Errorf("%w: entry kind %q", domain.ErrInvalidInput, e.Kind)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	var current int64
	err := t.q.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE owner_id = ?`, e.AccountID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	delta := int64(e.Kind.Signed(e.Amount))
	switch {
	case delta < 0 && current+delta < 0:
		return nil, domain.ErrInsufficientFunds
	case delta > 0 && current > math.MaxInt64-delta:
		return nil, fmt.Errorf("%w: balance of account %d would overflow", domain.ErrInvalidAmount, e.AccountID)
	}
	balance := current + delta

	result, err := t.q.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE owner_id = ? AND balance = ?`,
		balance, e.Timestamp.Unix(), e.AccountID, current,
	)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("balance of account %d changed during update", e.AccountID)
	}
	e.BalanceAfter = domain.Amount(balance)

	res, err := t.q.ExecContext(ctx,
		`INSERT INTO wallet_transactions (id, account_id, kind, amount, description, balance_after, job_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, string(e.Kind), int64(e.Amount), nullStr(e.Description),
		balance, nullID(e.JobID), e.Timestamp.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &e, nil
}

const txColumns = `seq, id, account_id, kind, amount, description, balance_after, job_id, timestamp`

// ListTransactions returns an account's transactions, newest first.
// A limit <= 0 returns all of them.
func (c *Conn) ListTransactions(ctx context.Context, accountID int64, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+txColumns+` FROM wallet_transactions
		 WHERE account_id = ? ORDER BY seq DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Transaction
	for rows.Next() {
		e, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// LastCredit returns the most recent credit transaction on an account or
// domain.ErrNotFound.
func (c *Conn) LastCredit(ctx context.Context, accountID int64) (*domain.Transaction, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM wallet_transactions
		 WHERE account_id = ? AND kind = 'credit' ORDER BY seq DESC LIMIT 1`,
		accountID,
	)
	return scanTransaction(row)
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var e domain.Transaction
	var amount, balanceAfter, ts int64
	var desc sql.NullString
	var jobID sql.NullInt64

	err := s.Scan(&e.Seq, &e.ID, &e.AccountID, &e.Kind, &amount, &desc, &balanceAfter, &jobID, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	e.Amount = domain.Amount(amount)
	e.BalanceAfter = domain.Amount(balanceAfter)
	e.Description = desc.String
	e.JobID = jobID.Int64
	e.Timestamp = time.Unix(ts, 0)
	return &e, nil
}

// ─── Ledger Audit ───────────────────────────────────────────────────────────

// AccountAudit compares the cached balance with the signed sum of the log.
type AccountAudit struct {
	OwnerID      int64
	Balance      domain.Amount
	LedgerSum    domain.Amount
	Transactions int64
}

// Consistent reports whether the ledger invariant holds for the account.
func (a AccountAudit) Consistent() bool {
	return a.Balance == a.LedgerSum
}

const auditQuery = `SELECT a.owner_id, a.balance,
		COALESCE(SUM(CASE WHEN t.kind = 'credit' THEN t.amount ELSE -t.amount END), 0),
		COUNT(t.seq)
	FROM accounts a LEFT JOIN wallet_transactions t ON t.account_id = a.owner_id`

// AuditAccount recomputes one account's ledger sum.
func (c *Conn) AuditAccount(ctx context.Context, ownerID int64) (*AccountAudit, error) {
	var a AccountAudit
	var balance, sum int64
	err := c.q.QueryRowContext(ctx,
		auditQuery+` WHERE a.owner_id = ? GROUP BY a.owner_id`, ownerID,
	).Scan(&a.OwnerID, &balance, &sum, &a.Transactions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit account: %w", err)
	}
	a.Balance = domain.Amount(balance)
	a.LedgerSum = domain.Amount(sum)
	return &a, nil
}

// AuditAccounts recomputes the ledger sum of every account.
func (c *Conn) AuditAccounts(ctx context.Context) ([]AccountAudit, error) {
	rows, err := c.q.QueryContext(ctx, auditQuery+` GROUP BY a.owner_id ORDER BY a.owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountAudit
	for rows.Next() {
		var a AccountAudit
		var balance, sum int64
		if err := rows.Scan(&a.OwnerID, &balance, &sum, &a.Transactions); err != nil {
			return nil, err
		}
		a.Balance = domain.Amount(balance)
		a.LedgerSum = domain.Amount(sum)
		out = append(out, a)
	}
	return out, rows.Err()
}
