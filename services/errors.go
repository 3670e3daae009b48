package services

import (
	"errors"
	"fmt"

	"bounty-board/repository"
)

// Base taxonomy. Handlers map these to HTTP status codes.
var (
	ErrNotAuthorized  = errors.New("not authorized")
	ErrInvalidState   = errors.New("invalid state")
	ErrInvalidInput   = errors.New("invalid input")
	ErrAlreadyExists  = errors.New("active claim already exists")
	ErrNoActiveClaim  = errors.New("no active claim")
	ErrNoPendingClaim = errors.New("no pending claim")
	ErrTransient      = errors.New("transient ledger error")
	ErrUnresolved     = errors.New("unresolved")
	ErrNotFound       = repository.ErrNotFound
)

// Refinements. Each one also matches its parent with errors.Is.
var (
	ErrAlreadyFulfilled    = refine(ErrInvalidState, "bounty already has a granted claim")
	ErrTooManyActiveClaims = refine(ErrInvalidState, "too many active claims")
	ErrSanctioned          = refine(ErrNotAuthorized, "actor was removed from a bounty with sanction")
	ErrNotReserved         = refine(ErrInvalidState, "bounty is not reserved")
	ErrRemarketLimit       = refine(ErrInvalidState, "remarket limit reached")
	ErrRemarketCooldown    = refine(ErrInvalidState, "remarketed too recently")
	ErrTransactionNotMined = refine(ErrTransient, "transaction not mined")
	ErrUnresolvedBounty    = refine(ErrUnresolved, "no ledger bounty for issue")
)

type refinedError struct {
	parent error
	msg    string
}

func (e *refinedError) Error() string { return e.msg }
func (e *refinedError) Unwrap() error { return e.parent }

func refine(parent error, msg string) error {
	return &refinedError{parent: parent, msg: msg}
}

// transient marks a ledger failure as retryable while keeping the cause.
func transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
