package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")
)

// Vault and proposal state errors. These are sequencing mistakes and are
// never retried.
var (
	ErrNotInitialized      = errors.New("vault not initialized")
	ErrAlreadyInitialized  = errors.New("vault already initialized")
	ErrAlreadyFinalized    = errors.New("already finalized")
	ErrVaultFinalized      = errors.New("vault is finalized")
	ErrVaultNotInitialized = errors.New("vault is not active")
	ErrVaultNotFinalized   = errors.New("vault is not finalized")
	ErrProposalNotExpired  = errors.New("proposal has not expired")
	ErrOutcomePending      = errors.New("outcome still pending")
)

// Validation errors caused by caller input.
var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoWinningTokens     = errors.New("no winning tokens to redeem")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrInvalidBranch       = errors.New("invalid branch")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrMissingSignature    = errors.New("missing required signature")
)

// InsufficientBalanceError reports a collateral shortfall.
type InsufficientBalanceError struct {
	Requested uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// InsufficientBranchBalanceError reports a shortfall on one conditional
// branch during a merge.
type InsufficientBranchBalanceError struct {
	Branch    int
	Requested uint64
	Available uint64
}

func (e *InsufficientBranchBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on branch %d: requested %d, available %d",
		e.Branch, e.Requested, e.Available)
}

func (e *InsufficientBranchBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// IsStateError reports whether err is a lifecycle sequencing error.
func IsStateError(err error) bool {
	for _, s := range []error{
		ErrNotInitialized, ErrAlreadyInitialized, ErrAlreadyFinalized,
		ErrVaultFinalized, ErrVaultNotInitialized, ErrVaultNotFinalized,
		ErrProposalNotExpired,
		ErrOutcomePending,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// IsValidationError reports whether err was caused by caller input.
func IsValidationError(err error) bool {
	for _, s := range []error{
		ErrInvalidAmount, ErrInsufficientBalance, ErrNoWinningTokens,
		ErrInvalidOutcome, ErrInvalidBranch, ErrInvalidAddress,
		ErrInvalidTransaction, ErrMissingSignature,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
