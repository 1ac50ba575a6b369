package store

import "errors"

var (
	ErrConnectionFailed    = errors.New("db connection failed")
	ErrCreatingTableFailed = errors.New("creating table failed")
	ErrNotFound            = errors.New("not found")
	ErrUniqueViolation     = errors.New("unique violation")
	ErrDeadlock            = errors.New("deadlock detected")
)
