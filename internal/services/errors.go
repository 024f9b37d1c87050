package services

import "errors"

// Validation-class errors are returned to the caller for user-facing
// display; concurrency errors surface after bounded internal retries.
var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrAlreadyEntitled        = errors.New("module already unlocked")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrBatchAbandoned         = errors.New("payout batch abandoned")
	ErrVerificationFailed     = errors.New("payment verification failed")
)
