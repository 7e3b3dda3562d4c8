package operation

import "errors"

var (
	// ErrRootUpdate is returned when a query or mutation receives a second
	// result within one execution
	ErrRootUpdate = errors.New("updates on root types are not supported")
	// ErrDefinitionConflict is returned when two different documents share
	// a definition name
	ErrDefinitionConflict = errors.New("conflicting operation definition")
	// ErrRegistryClosed is returned after Shutdown
	ErrRegistryClosed = errors.New("operation registry shut down")
)
