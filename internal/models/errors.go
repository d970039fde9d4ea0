package models

import "errors"

// Error taxonomy shared by the lifecycle rules, the ledger and the stores.
// Callers match with errors.Is; wrapped messages carry the detail.
var (
	// ErrValidation marks malformed input. Never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrIllegalTransition marks a status precondition that does not hold.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrConflict marks a lost compare-and-swap, a second in-flight attempt,
	// or a duplicate or out-of-order callback. Re-fetch before retrying.
	ErrConflict = errors.New("conflict")

	// ErrAmountMismatch marks a completion whose amount does not match the
	// attempt. The settlement is aborted.
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrProviderUnavailable means no payment provider is configured.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrPermissionDenied means the acting user may not perform the operation.
	ErrPermissionDenied = errors.New("permission denied")

	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)
