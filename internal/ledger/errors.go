package ledger

import "errors"

var (
	ErrSelfTransfer          = errors.New("transfer to self is forbidden")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidIdempotencyKey = errors.New("idempotency key must not be empty")
	ErrUserNotFound          = errors.New("user not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrLockContention        = errors.New("transient lock contention")
)
