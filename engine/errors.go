package engine

import "errors"

var (
	// ErrKeyTooLong is returned when a key exceeds MaxKeyLength bytes.
	// No entry is ever created for an over-length key.
	ErrKeyTooLong = errors.New("engine: key exceeds maximum length")

	// ErrEmptyKey is returned for zero-length keys.
	ErrEmptyKey = errors.New("engine: empty key")

	// ErrWrongType is returned when an atomic numeric operation targets an
	// entry that does not hold an Int.
	ErrWrongType = errors.New("engine: value is not an integer")

	// ErrMaxMemory is returned when a write would push the estimated memory
	// usage past the configured budget. Writes are rejected; nothing is
	// evicted.
	ErrMaxMemory = errors.New("engine: max memory limit exceeded")
)
