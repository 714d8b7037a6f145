package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoParent is returned when a dependent model is stored without
	// an owning document id.
	ErrNoParent = errors.New("dependent model has no parent document id")
	// ErrBadDeleteToken is returned when a delete is confirmed with a
	// token that was never issued or was already spent.
	ErrBadDeleteToken = errors.New("invalid or spent delete token")
	// ErrUnknownKind is returned for entities the store has no table for.
	ErrUnknownKind = errors.New("unknown entity kind")
)
