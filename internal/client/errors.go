package client

import "errors"

var (
	// ErrDuplicateID is returned when a handler is registered under an id
	// that already has a live entry
	ErrDuplicateID = errors.New("operation id already registered")
	// ErrShutdown is returned by calls made after Shutdown
	ErrShutdown = errors.New("connection shut down")
	// ErrNotConnected is returned when an operation needs a valid connection
	ErrNotConnected = errors.New("connection is not valid")
)
