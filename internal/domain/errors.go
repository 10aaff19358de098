package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInsufficient    = errors.New("insufficient credits")
	ErrEventResolved   = errors.New("usage event already resolved")
	ErrNotActive       = errors.New("subscription not active")
	ErrAlreadyActive   = errors.New("subscription already active")
	ErrUnsupportedPlan = errors.New("unsupported plan")
	ErrPersistence     = errors.New("ledger store unavailable")

	// Provider failures, see providers/genai.
	ErrRateLimited   = errors.New("provider rate limited")
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	ErrTransient     = errors.New("provider transient failure")
	ErrFatal         = errors.New("provider fatal failure")
)

// InsufficientError carries the shortfall of a rejected deduction.
type InsufficientError struct {
	Balance   int64
	Requested int64
}

// Shortfall is the number of credits missing for the request.
func (e *InsufficientError) Shortfall() int64 {
	return e.Requested - e.Balance
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, requested %d, shortfall %d", e.Balance, e.Requested, e.Shortfall())
}

func (e *InsufficientError) Is(target error) bool {
	return target == ErrInsufficient
}

// IsProviderError reports whether err belongs to the AI adapter taxonomy.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrFatal)
}
