package types

import (
	"errors"
	"fmt"
)

// ConnectionError is returned when a connection cannot be established or
// accepted. It is fatal for the run and never retried.
type ConnectionError struct {
	Op   string // "dial", "listen" or "accept"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError
func NewConnectionError(op, addr string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Addr: addr, Err: err}
}

// IsConnectionError checks if the error is or wraps a ConnectionError
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return err != nil && errors.As(err, &connErr)
}
