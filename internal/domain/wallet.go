package domain

import "time"

// EntryKind is the direction of a ledger transaction.
type EntryKind string

const (
	EntryCredit EntryKind = "credit"
	EntryDebit  EntryKind = "debit"
)

// Signed returns amount with the sign this kind applies to a balance.
func (k EntryKind) Signed(amount Amount) Amount {
	if k == EntryDebit {
		return -amount
	}
	return amount
}

// Account is a per-user wallet. Balance is a cache of the signed sum of the
// account's transactions and is only ever written together with one.
type Account struct {
	OwnerID   int64     `json:"user_id"`
	Balance   Amount    `json:"wallet_balance"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"-"`
	AccountID    int64     `json:"user_id"`
	Kind         EntryKind `json:"type"`
	Amount       Amount    `json:"amount"`
	Description  string    `json:"description"`
	BalanceAfter Amount    `json:"balance_after"`
	JobID        int64     `json:"job_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
