package history

import "errors"

var (
	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("history: run not found")

	// ErrInvalidRunID is returned for an empty run ID.
	ErrInvalidRunID = errors.New("history: run id is required")
)
