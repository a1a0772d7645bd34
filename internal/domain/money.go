package domain

import "fmt"

// Amount is a sum of money in minor currency units (1 INR = 100 Amount).
// Integer units keep the ledger invariant exact.
type Amount int64

// String renders the amount with two decimals, e.g. 1050 -> "10.50".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Positive reports whether a is strictly greater than zero.
func (a Amount) Positive() bool { return a > 0 }

// Quote is a resolved price for one job submission: the node's per-hour price,
// charged once (flat-rate billing).
type Quote struct {
	Price    Amount `json:"price_per_hour"`
	Currency string `json:"currency"`
	Default  bool   `json:"default"` // true when the node has no pricing and the configured rate applies
}
