package view

import "errors"

var (
	// ErrNarrowMismatch is returned when a value is treated as a concrete
	// type it does not have
	ErrNarrowMismatch = errors.New("narrowing type mismatch")
	// ErrNotObject is returned when a non-object field is read as an object
	ErrNotObject = errors.New("field is not an object")
	// ErrNotList is returned when a non-list field is read as a list
	ErrNotList = errors.New("field is not a list")
	// ErrUnknownField is returned for fields the type does not declare
	ErrUnknownField = errors.New("unknown field")
	// ErrNoRoot is returned when refreshing a root that was never
	// materialized
	ErrNoRoot = errors.New("root not materialized")
	// ErrClosed is returned by accessors of a closed proxy
	ErrClosed = errors.New("proxy closed")
)
