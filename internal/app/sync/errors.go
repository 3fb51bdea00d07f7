package sync

import "errors"

var (
	ErrNotFound      = errors.New("customer not found")
	ErrInvalidData   = errors.New("invalid data")
	ErrSchemaMissing = errors.New("staging schema missing")
	ErrRetryable     = errors.New("retryable")
	ErrTimeout       = errors.New("timeout")
	ErrUnexpected    = errors.New("unexpected error")

	ErrMissingEventType = errors.New("envelope: missing event type")
	ErrMissingEntityID  = errors.New("envelope: missing entity id")
	ErrMissingSnapshot  = errors.New("envelope: missing entity data")
)
