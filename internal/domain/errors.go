package domain

import "errors"

// Sentinel errors returned (wrapped) by collaborators such as the store.
var (
	// ErrNotFound indicates an unknown record or user.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a compare-and-swap against a stale version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate indicates an insert of an id that already exists.
	ErrDuplicate = errors.New("duplicate")
)
