package types

import (
	"fmt"
	"strings"
	"time"
)

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusSkip  TestStatus = "skip"
	TestStatusError TestStatus = "error"
)

// Description identifies a test or a suite.
// MethodName is empty for suites and whole-class runs.
type Description struct {
	ClassName   string
	MethodName  string
	DisplayName string
}

// NewTestDescription builds the identity of a single test with the
// conventional "method(class)" display name
func NewTestDescription(className, methodName string) Description {
	return Description{
		ClassName:   className,
		MethodName:  methodName,
		DisplayName: fmt.Sprintf("%s(%s)", methodName, className),
	}
}

// NewSuiteDescription builds the identity of a suite or a run
func NewSuiteDescription(name string) Description {
	return Description{
		ClassName:   name,
		DisplayName: name,
	}
}

// Key is the value used to compare identities. Two descriptions are the
// same test iff their display names match.
func (d Description) Key() string {
	return d.DisplayName
}

// Equal compares by Key
func (d Description) Equal(other Description) bool {
	return d.Key() == other.Key()
}

// IsSuite reports whether the description names a suite rather than a single test
func (d Description) IsSuite() bool {
	return d.MethodName == ""
}

// StackFrame is one element of an exception's stack trace
type StackFrame struct {
	Entity string // declaring class or package
	Member string // method or function
	File   string
	Line   int
}

func (f StackFrame) String() string {
	var loc string
	switch {
	case f.File == "":
		loc = "Unknown Source"
	case f.Line > 0:
		loc = fmt.Sprintf("%s:%d", f.File, f.Line)
	default:
		loc = f.File
	}
	if f.Entity == "" {
		return fmt.Sprintf("%s(%s)", f.Member, loc)
	}
	return fmt.Sprintf("%s.%s(%s)", f.Entity, f.Member, loc)
}

// Exception describes why a test failed. Cause repeats the shape down to the root cause.
type Exception struct {
	Message     string
	StackFrames []StackFrame
	Cause       *Exception
}

// RootCause returns the innermost exception of the chain
func (e *Exception) RootCause() *Exception {
	if e == nil {
		return nil
	}
	root := e
	for root.Cause != nil {
		root = root.Cause
	}
	return root
}

// Depth returns the number of exceptions in the chain
func (e *Exception) Depth() int {
	n := 0
	for cur := e; cur != nil; cur = cur.Cause {
		n++
	}
	return n
}

// Trace renders the exception chain the way a stack trace is usually printed
func (e *Exception) Trace() string {
	var b strings.Builder
	for cur, first := e, true; cur != nil; cur, first = cur.Cause, false {
		if !first {
			b.WriteString("Caused by: ")
		}
		b.WriteString(cur.Message)
		b.WriteString("\n")
		for _, frame := range cur.StackFrames {
			b.WriteString("\tat ")
			b.WriteString(frame.String())
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Failure captures a failing test together with what it threw
type Failure struct {
	Description Description
	Exception   Exception
}

// Message returns the top-level exception message
func (f Failure) Message() string {
	return f.Exception.Message
}

// Result is the summary sent when a run finishes
type Result struct {
	RunCount     int
	FailureCount int
	IgnoreCount  int
	RunTime      time.Duration
}

// WasSuccessful reports whether no test failed
func (r Result) WasSuccessful() bool {
	return r.FailureCount == 0
}

// TestResult captures the outcome of a single test as seen by the host
type TestResult struct {
	Description Description
	Status      TestStatus
	Failure     *Failure
	StartTime   time.Time
	Duration    time.Duration
}
