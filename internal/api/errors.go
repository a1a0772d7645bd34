package api

import (
	"errors"
	"net/http"

	"github.com/indicompute/indicompute/internal/domain"
)

// errorMapping pairs a domain error with its HTTP status and error type.
// Order matters: the first match wins.
var errorMapping = []struct {
	err    error
	status int
	kind   string
}{
	{domain.ErrPricingNotSet, http.StatusNotFound, "pricing_not_set"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domain.ErrUnsupportedCurrency, http.StatusBadRequest, "unsupported_currency"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{domain.ErrNodeBusy, http.StatusConflict, "node_busy"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrConsistency, http.StatusInternalServerError, "consistency_error"},
}

// statusFor maps an error to its HTTP status and error type. Unknown errors
// mean storage was unreachable outside a transaction.
func statusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.kind
		}
	}
	return http.StatusServiceUnavailable, "unavailable"
}

// fail writes err as a JSON error response. Server-side failures are logged
// and their detail withheld from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	writeError(w, status, kind, msg)
}
