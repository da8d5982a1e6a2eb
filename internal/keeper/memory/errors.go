package memory

import "errors"

var (
	// ErrNotFound is returned when a mutation addresses a missing resource
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicateID is returned when an id is already taken
	ErrDuplicateID = errors.New("duplicate resource id")
)
