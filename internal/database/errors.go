package database

import "errors"

// Sentinel errors surfaced by the repositories. The HTTP layer maps
// these to status codes with errors.Is.
var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrReferenced is returned when an analysis delete is refused
	// because a trade still references it
	ErrReferenced = errors.New("analysis is referenced by a trade")

	// ErrDuplicateActiveTrade is returned when a non-closed trade
	// already exists for the (ticker, timeframe)
	ErrDuplicateActiveTrade = errors.New("a non-closed trade already exists for this ticker and timeframe")

	// ErrValidation is returned when input violates a data invariant
	ErrValidation = errors.New("validation failed")

	// ErrStaleUpdate is returned when a CAS patch loses the race
	ErrStaleUpdate = errors.New("trade was modified concurrently")
)
