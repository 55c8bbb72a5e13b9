package domain

import "errors"

// Deterministic transfer outcomes. The engine returns exactly one of these
// for every failed call; handlers match with errors.Is.
var (
	ErrAuthentication      = errors.New("authentication failed")
	ErrInvalidInput        = errors.New("invalid transfer input")
	ErrSelfTransfer        = errors.New("cannot transfer to your own account")
	ErrSenderNotFound      = errors.New("sender account not found")
	ErrReceiverNotFound    = errors.New("recipient account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTransferFailed covers everything infrastructural: lock timeouts,
	// storage unavailability, aborted commits. The cause is logged, never
	// surfaced to the client.
	ErrTransferFailed = errors.New("transfer failed")
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailTaken      = errors.New("email already registered")

	// ErrDuplicateTransfer means another request with the same idempotency
	// key committed first; the stored result should be returned instead.
	ErrDuplicateTransfer = errors.New("duplicate transfer request")

	// ErrIdempotencyConflict means the key is already bound to a different
	// account's transfer. Replaying it must never leak that result.
	ErrIdempotencyConflict = errors.New("idempotency key already used by another account")
)
