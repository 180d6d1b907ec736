// Package types contains the event model shared by the target-side emitter and the host-side collector
package types

import (
	"errors"
	"fmt"
)

// ResultType is the discriminator of an Event. The numeric values are part of the wire format.
type ResultType int

// ResultType enum values
const (
	TestIgnored     ResultType = 1
	TestRunStarted  ResultType = 2
	TestRunFinished ResultType = 3
	TestStarted     ResultType = 4
	TestFinished    ResultType = 5
	TestFailure     ResultType = 6
)

var resultTypeNames = map[ResultType]string{
	TestIgnored:     "ignored",
	TestRunStarted:  "run_started",
	TestRunFinished: "run_finished",
	TestStarted:     "started",
	TestFinished:    "finished",
	TestFailure:     "failure",
}

// String implements the Stringer interface for ResultType
func (t ResultType) String() string {
	if name, ok := resultTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// IsValid reports whether t is one of the six known result types
func (t ResultType) IsValid() bool {
	_, ok := resultTypeNames[t]
	return ok
}

// ResultTypes returns all known result types in wire order
func ResultTypes() []ResultType {
	return []ResultType{TestIgnored, TestRunStarted, TestRunFinished, TestStarted, TestFinished, TestFailure}
}

// Event is a single lifecycle notification. Exactly one of the payload
// pointers is set, and which one is determined by Type.
type Event struct {
	Type        ResultType
	Description *Description // TestIgnored, TestRunStarted, TestStarted, TestFinished
	Result      *Result      // TestRunFinished
	Failure     *Failure     // TestFailure
}

func NewRunStarted(suite Description) Event {
	return Event{Type: TestRunStarted, Description: &suite}
}

func NewTestStarted(desc Description) Event {
	return Event{Type: TestStarted, Description: &desc}
}

func NewTestIgnored(desc Description) Event {
	return Event{Type: TestIgnored, Description: &desc}
}

func NewTestFinished(desc Description) Event {
	return Event{Type: TestFinished, Description: &desc}
}

func NewTestFailure(failure Failure) Event {
	return Event{Type: TestFailure, Failure: &failure}
}

func NewRunFinished(result Result) Event {
	return Event{Type: TestRunFinished, Result: &result}
}

var (
	ErrUnknownResultType = errors.New("unknown result type")
	ErrPayloadMismatch   = errors.New("payload does not match result type")
)

// Validate checks that the populated payload agrees with the discriminator
func (e Event) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: %d", ErrUnknownResultType, int(e.Type))
	}

	hasDesc, hasResult, hasFailure := e.Description != nil, e.Result != nil, e.Failure != nil
	var ok bool
	switch e.Type {
	case TestRunFinished:
		ok = hasResult && !hasDesc && !hasFailure
	case TestFailure:
		ok = hasFailure && !hasDesc && !hasResult
	default:
		ok = hasDesc && !hasResult && !hasFailure
	}
	if !ok {
		return fmt.Errorf("%w: %s (description=%t result=%t failure=%t)",
			ErrPayloadMismatch, e.Type, hasDesc, hasResult, hasFailure)
	}
	return nil
}

// Subject returns the identity the event is about. For a run-finished event
// there is none and the zero Description is returned.
func (e Event) Subject() Description {
	switch {
	case e.Description != nil:
		return *e.Description
	case e.Failure != nil:
		return e.Failure.Description
	default:
		return Description{}
	}
}

// IsTerminal reports whether the event closes the run
func (e Event) IsTerminal() bool {
	return e.Type == TestRunFinished
}

func (e Event) String() string {
	switch {
	case e.Result != nil:
		return fmt.Sprintf("%s{run=%d failed=%d ignored=%d time=%s}", e.Type,
			e.Result.RunCount, e.Result.FailureCount, e.Result.IgnoreCount, e.Result.RunTime)
	default:
		return fmt.Sprintf("%s(%s)", e.Type, e.Subject().DisplayName)
	}
}
