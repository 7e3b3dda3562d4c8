package store

import "errors"

var (
	// ErrRootExists is returned when a second root is created under a name
	ErrRootExists = errors.New("root object already exists")
	// ErrMissingIdentity is returned when an identity object has no id
	ErrMissingIdentity = errors.New("identity object without id")
	// ErrTypeMismatch is returned when an existing object is updated as a
	// different type
	ErrTypeMismatch = errors.New("object type mismatch")
	// ErrUnsupportedValue is returned for field values the store cannot hold
	ErrUnsupportedValue = errors.New("unsupported field value")
)
