package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrRetryable marks serialization failures and deadlocks; the whole
	// transaction can be replayed without side effects.
	ErrRetryable = errors.New("retryable transaction conflict")
)
