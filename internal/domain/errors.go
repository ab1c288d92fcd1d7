// Package domain contains core business logic and domain types.
package domain

import "errors"

// Sentinel errors for the dispatch/reliability engine. Use errors.Is() to
// compare: errors.Is(err, ErrNotFound).
var (
	// ErrNotFound indicates a requested Task/Run/OutboxEntry/etc. does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation indicates invalid input data (ClientError, terminal).
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates a missing or invalid API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller's API key role does not permit the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a conflict with current state (e.g. duplicate idempotency key).
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an internal server error.
	ErrInternal = errors.New("internal error")

	// ErrQueueFull is raised by the Admission Controller when queue depth is at cap.
	ErrQueueFull = errors.New("queue_full")

	// ErrBudgetExceeded is raised by the Admission Controller or Budget Accountant.
	ErrBudgetExceeded = errors.New("budget_exceeded")

	// ErrCircuitOpen is raised pre-admission when the task's dominant dependency is open.
	ErrCircuitOpen = errors.New("circuit_open")

	// ErrLeaseLost is raised when ExtendLease or Release is called with a stale token.
	ErrLeaseLost = errors.New("lease_lost")

	// ErrInvalidSignature is raised by the inbox gate on HMAC mismatch.
	ErrInvalidSignature = errors.New("invalid_signature")

	// ErrReplayBlocked is raised when an (source, external_id) pair has already been seen.
	ErrReplayBlocked = errors.New("replay_blocked")

	// ErrReplayWindowExceeded is raised when a webhook timestamp is outside the tolerance window.
	ErrReplayWindowExceeded = errors.New("replay_window_exceeded")
)

// WrapError wraps an error with a domain error type.
// This allows errors.Is() to match the domain error.
//
// Example:
//
//	return domain.WrapError(domain.ErrNotFound, "task not found")
func WrapError(domainErr error, message string) error {
	return &wrappedError{
		domainErr: domainErr,
		message:   message,
	}
}

type wrappedError struct {
	domainErr error
	message   string
}

func (e *wrappedError) Error() string {
	return e.message
}

func (e *wrappedError) Unwrap() error {
	return e.domainErr
}
