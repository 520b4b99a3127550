package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors:
//   - ErrNotFound: row does not exist
//   - ErrAlreadyUsed: a unique key (one form per event) is already taken
//   - ErrConflict: an optimistic version check lost a race
//   - ErrUnavailable: the store could not be reached
//
// Validation failures never use these; they are built with pkg/domain-errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)
