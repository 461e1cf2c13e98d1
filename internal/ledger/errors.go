package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned by Debit/Transfer when the payer's
	// balance cannot cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUserNotFound is returned when an operation references a user
	// that does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidAmount is returned when amount <= 0 for a Credit/Debit/Transfer.
	ErrInvalidAmount = errors.New("amount must be positive")
)
