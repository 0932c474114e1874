package domain

import "errors"

var (
	// ErrValidation marks malformed requests. Never retried automatically.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks actions by a non-participant, or sends into a
	// conversation blocked against the sender. Fatal to the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks references to missing or soft-deleted entities.
	ErrNotFound = errors.New("not found")
)
