package emitter

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// TransmitError is a failed send. It is logged by the emitter and never
// reaches the test framework.
type TransmitError struct {
	Type types.ResultType
	Err  error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("transmit %s: %v", e.Type, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *TransmitError) Unwrap() error {
	return e.Err
}

// CloseError is a failure while closing the connection after the run finished
type CloseError struct {
	Err error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *CloseError) Unwrap() error {
	return e.Err
}
