package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency. Services wrap them
// with fmt.Errorf("...: %w") and callers match with errors.Is.

var (
	// Lookup and authorization
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")

	// Node credentials
	ErrInvalidCredentials = errors.New("invalid node credentials")

	// Ledger errors
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientFunds   = errors.New("insufficient wallet balance")
	ErrUnsupportedCurrency = errors.New("currency not supported by the ledger")

	// ErrConsistency means an atomic multi-step write could not be applied as a
	// unit. Nothing from the attempted unit is visible afterwards.
	ErrConsistency = errors.New("atomic commit failed")

	// Pricing
	ErrPricingNotSet = errors.New("pricing not set for this node")

	// Job lifecycle
	ErrAlreadyCompleted  = errors.New("job already completed")
	ErrInvalidTransition = errors.New("invalid job status transition")

	// Node deletion policy
	ErrNodeBusy = errors.New("node has running jobs")

	ErrInvalidInput = errors.New("invalid input")
)

// known lists every sentinel above; used to tell domain failures apart from
// raw storage errors.
var known = []error{
	ErrNotFound, ErrForbidden, ErrInvalidCredentials,
	ErrInvalidAmount, ErrInsufficientFunds, ErrUnsupportedCurrency,
	ErrConsistency, ErrPricingNotSet, ErrAlreadyCompleted,
	ErrInvalidTransition, ErrNodeBusy, ErrInvalidInput,
}

// IsDomainError reports whether err wraps one of the domain sentinels.
func IsDomainError(err error) bool {
	for _, k := range known {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
