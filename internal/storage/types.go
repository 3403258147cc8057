package storage

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrContention indicates the store is temporarily locked or busy.
	// Callers retry via WithRetry; only after the retry budget is spent is
	// the error surfaced.
	ErrContention = errors.New("store contention")

	// ErrUnavailable indicates a capability (e.g. the vector index) is not
	// present in this backend or deployment. Callers degrade gracefully.
	ErrUnavailable = errors.New("capability unavailable")

	// ErrCorruption indicates the backend returned data that failed
	// integrity checks. Never retried.
	ErrCorruption = errors.New("store corruption")
)
