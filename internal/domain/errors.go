package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function;
// the worker loops use them to decide between skip, abandon and pause.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict: record already exists")
	ErrContentUnavailable = errors.New("content unavailable for item")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInvariantViolation = errors.New("logic invariant violation")

	ErrInvalidRecipient = errors.New("recipient must be a positive chat id")
	ErrInvalidLink      = errors.New("link must be an absolute http(s) URL")
	ErrInvalidSourceKey = errors.New("source key must not be empty or reserved")
	ErrInvalidTitle     = errors.New("title must be at most 512 characters")
)
