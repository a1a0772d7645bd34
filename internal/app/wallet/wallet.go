// Package wallet implements the per-user wallet ledger.
//
// Every account balance is a cache of the signed sum of its transactions:
// Σcredit − Σdebit. The balance update and the transaction row are always
// written in the same SQL transaction, and every write to an account holds
// that account's lock.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/indicompute/indicompute/internal/domain"
	"github.com/indicompute/indicompute/internal/infra/keylock"
	"github.com/indicompute/indicompute/internal/infra/metrics"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
)

// Config tunes the ledger.
type Config struct {
	// Currency of every account. The ledger does not convert.
	Currency string
	Logger   *slog.Logger
	Now      func() time.Time
}

// Ledger manages wallet balances.
type Ledger struct {
	db     *sqlite.DB
	locks  *keylock.Map
	ccy    string
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a ledger. locks must be shared with every other service
// that writes to accounts.
func NewLedger(db *sqlite.DB, locks *keylock.Map, cfg Config) *Ledger {
	l := &Ledger{
		db:     db,
		locks:  locks,
		ccy:    cfg.Currency,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Currency returns the ledger currency.
func (l *Ledger) Currency() string { return l.ccy }

// ─── Writes ─────────────────────────────────────────────────────────────────

// TopUp adds funds to an account and returns the updated account.
func (l *Ledger) TopUp(ctx context.Context, accountID int64, amount domain.Amount) (*domain.Account, error) {
	if !amount.Positive() {
		return nil, domain.ErrInvalidAmount
	}

	unlock := l.locks.Lock(keylock.Account(accountID))
	defer unlock()

	var entry *domain.Transaction
	err := l.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		entry, err = l.CreditTx(ctx, tx, accountID, amount, "wallet top-up", 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Committed(entry)

	return &domain.Account{
		OwnerID:   accountID,
		Balance:   entry.BalanceAfter,
		Currency:  l.ccy,
		UpdatedAt: entry.Timestamp,
	}, nil
}

// Debit takes amount from an account. It fails with
// domain.ErrInsufficientFunds, changing nothing, when the balance is short.
func (l *Ledger) Debit(ctx context.Context, accountID int64, amount domain.Amount, description string) (*domain.Transaction, error) {
	unlock := l.locks.Lock(keylock.Account(accountID))
	defer unlock()

	var entry *domain.Transaction
	err := l.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		entry, err = l.DebitTx(ctx, tx, accountID, amount, description, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Committed(entry)
	return entry, nil
}

// Credit adds amount to an account.
func (l *Ledger) Credit(ctx context.Context, accountID int64, amount domain.Amount, description string) (*domain.Transaction, error) {
	unlock := l.locks.Lock(keylock.Account(accountID))
	defer unlock()

	var entry *domain.Transaction
	err := l.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		entry, err = l.CreditTx(ctx, tx, accountID, amount, description, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.Committed(entry)
	return entry, nil
}

// DebitTx debits inside the caller's transaction. The caller must hold the
// account lock and call Committed after the transaction commits.
func (l *Ledger) DebitTx(ctx context.Context, tx *sqlite.Tx, accountID int64, amount domain.Amount, description string, jobID int64) (*domain.Transaction, error) {
	return l.apply(ctx, tx, domain.EntryDebit, accountID, amount, description, jobID)
}

// CreditTx credits inside the caller's transaction. The caller must hold the
// account lock and call Committed after the transaction commits.
func (l *Ledger) CreditTx(ctx context.Context, tx *sqlite.Tx, accountID int64, amount domain.Amount, description string, jobID int64) (*domain.Transaction, error) {
	return l.apply(ctx, tx, domain.EntryCredit, accountID, amount, description, jobID)
}

func (l *Ledger) apply(ctx context.Context, tx *sqlite.Tx, kind domain.EntryKind, accountID int64, amount domain.Amount, description string, jobID int64) (*domain.Transaction, error) {
	if !amount.Positive() {
		return nil, domain.ErrInvalidAmount
	}
	now := l.now()
	if err := tx.EnsureAccount(ctx, accountID, l.ccy, now); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return tx.ApplyEntry(ctx, domain.Transaction{
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		JobID:       jobID,
		Timestamp:   now,
	})
}

// Committed records metrics and logs for entries whose transaction committed.
func (l *Ledger) Committed(entries ...*domain.Transaction) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		metrics.LedgerEntries.WithLabelValues(string(e.Kind)).Inc()
		metrics.LedgerVolume.WithLabelValues(string(e.Kind)).Add(float64(e.Amount))
		l.logger.Info("ledger entry",
			"account_id", e.AccountID,
			"kind", e.Kind,
			"amount", e.Amount.String(),
			"balance_after", e.BalanceAfter.String(),
			"job_id", e.JobID,
		)
	}
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Balance returns an account. An account that never saw a ledger write reads
// as a zero balance; reading does not create it.
func (l *Ledger) Balance(ctx context.Context, accountID int64) (*domain.Account, error) {
	a, err := l.db.GetAccount(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Account{OwnerID: accountID, Currency: l.ccy}, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Transactions returns an account's transactions, newest first. A limit
// <= 0 returns all of them.
func (l *Ledger) Transactions(ctx context.Context, accountID int64, limit int) ([]domain.Transaction, error) {
	txs, err := l.db.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return txs, nil
}

// LastCredit returns the time of the most recent credit on an account, or
// nil when there is none.
func (l *Ledger) LastCredit(ctx context.Context, accountID int64) (*time.Time, error) {
	e, err := l.db.LastCredit(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts := e.Timestamp
	return &ts, nil
}

// ─── Audit ──────────────────────────────────────────────────────────────────

// Verify recomputes an account's ledger sum and compares it with the cached
// balance. A mismatch is reported as domain.ErrConsistency.
func (l *Ledger) Verify(ctx context.Context, accountID int64) (*sqlite.AccountAudit, error) {
	a, err := l.db.AuditAccount(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return &sqlite.AccountAudit{OwnerID: accountID}, nil
	}
	if err != nil {
		return nil, err
	}
	if !a.Consistent() {
		return a, mismatch(*a)
	}
	return a, nil
}

// VerifyAll audits every account. The returned error joins one
// domain.ErrConsistency per drifted account.
func (l *Ledger) VerifyAll(ctx context.Context) ([]sqlite.AccountAudit, error) {
	audits, err := l.db.AuditAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, a := range audits {
		if !a.Consistent() {
			l.logger.Error("ledger drift", "account_id", a.OwnerID,
				"balance", a.Balance.String(), "ledger_sum", a.LedgerSum.String())
			errs = append(errs, mismatch(a))
		}
	}
	return audits, errors.Join(errs...)
}

func mismatch(a sqlite.AccountAudit) error {
	return fmt.Errorf("%w: account %d balance %s != ledger sum %s",
		domain.ErrConsistency, a.OwnerID, a.Balance, a.LedgerSum)
}
