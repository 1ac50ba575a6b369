package identity

import "errors"

var (
	ErrValidation       = errors.New("validation failed")
	ErrEmailInUse       = errors.New("email already in use")
	ErrBadCredentials   = errors.New("wrong email or password")
	ErrInvalidToken     = errors.New("invalid or revoked token")
	ErrReceiverNotFound = errors.New("receiver not found")
	ErrSelfReceiver     = errors.New("cannot transfer money to yourself")
)
