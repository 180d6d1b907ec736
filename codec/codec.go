// Package codec converts events to and from the line-oriented wire format.
//
// Every event maps onto one compact JSON object. The mapping is spelled out
// per variant in wire.go rather than derived from the domain types, so the
// wire contract only changes when those structs do.
//
// Strings travel as JSON text and must be valid UTF-8. Encode replaces
// invalid bytes with U+FFFD, so such values come back altered. An empty
// stack frame list decodes as nil, the canonical form of "no frames".
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// MaxRecordSize bounds a single record on the wire. Failures with deep
// stack traces are the largest records by far.
const MaxRecordSize = 4 * 1024 * 1024

// Encode renders e as a single record without line breaks
func Encode(e types.Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("cannot encode event: %w", err)
	}

	resultType := int(e.Type)
	rec := record{ResultType: &resultType}
	switch e.Type {
	case types.TestRunFinished:
		rec.Result = encodeResult(*e.Result)
	case types.TestFailure:
		rec.Failure = encodeFailure(*e.Failure)
	default:
		rec.Description = encodeDescription(*e.Description)
	}

	// encoding/json escapes control characters inside strings, so the
	// compact output never contains a raw newline.
	return json.Marshal(rec)
}

// Decode parses a single record. Any failure is returned as a *DecodeError.
func Decode(line []byte) (types.Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return types.Event{}, newDecodeError(line, ErrMalformedRecord, "", nil)
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return types.Event{}, newDecodeError(line, ErrMalformedRecord, "", err)
	}
	if rec.ResultType == nil {
		return types.Event{}, newDecodeError(line, ErrMissingField, "resultType", nil)
	}

	resultType := types.ResultType(*rec.ResultType)
	if !resultType.IsValid() {
		return types.Event{}, newDecodeError(line, ErrUnknownResultType, "resultType",
			fmt.Errorf("value %d", *rec.ResultType))
	}

	switch resultType {
	case types.TestRunFinished:
		if err := expectOnly(line, "result", rec.Result != nil, rec.Description != nil, rec.Failure != nil); err != nil {
			return types.Event{}, err
		}
		result, err := decodeResult(line, rec.Result)
		if err != nil {
			return types.Event{}, err
		}
		return types.NewRunFinished(result), nil

	case types.TestFailure:
		if err := expectOnly(line, "failure", rec.Failure != nil, rec.Description != nil, rec.Result != nil); err != nil {
			return types.Event{}, err
		}
		failure, err := decodeFailure(line, rec.Failure)
		if err != nil {
			return types.Event{}, err
		}
		return types.NewTestFailure(failure), nil

	default:
		if err := expectOnly(line, "description", rec.Description != nil, rec.Result != nil, rec.Failure != nil); err != nil {
			return types.Event{}, err
		}
		desc, err := decodeDescription(line, rec.Description, "description")
		if err != nil {
			return types.Event{}, err
		}
		return types.Event{Type: resultType, Description: &desc}, nil
	}
}

// expectOnly checks that the payload named by field is present and that no
// payload of another variant is.
func expectOnly(line []byte, field string, present bool, others ...bool) error {
	if !present {
		return newDecodeError(line, ErrMissingField, field, nil)
	}
	for _, other := range others {
		if other {
			return newDecodeError(line, ErrUnexpectedField, field, fmt.Errorf("record carries more than one payload"))
		}
	}
	return nil
}

func encodeDescription(d types.Description) *wireDescription {
	displayName := d.DisplayName
	return &wireDescription{
		ClassName:   d.ClassName,
		MethodName:  d.MethodName,
		DisplayName: &displayName,
	}
}

func decodeDescription(line []byte, w *wireDescription, field string) (types.Description, error) {
	if w == nil {
		return types.Description{}, newDecodeError(line, ErrMissingField, field, nil)
	}
	if w.DisplayName == nil {
		return types.Description{}, newDecodeError(line, ErrMissingField, field+".displayName", nil)
	}
	return types.Description{
		ClassName:   w.ClassName,
		MethodName:  w.MethodName,
		DisplayName: *w.DisplayName,
	}, nil
}

func encodeResult(r types.Result) *wireResult {
	runCount, failureCount, ignoreCount := r.RunCount, r.FailureCount, r.IgnoreCount
	elapsed := r.RunTime.Milliseconds()
	return &wireResult{
		RunCount:      &runCount,
		FailureCount:  &failureCount,
		IgnoreCount:   &ignoreCount,
		ElapsedMillis: &elapsed,
	}
}

func decodeResult(line []byte, w *wireResult) (types.Result, error) {
	switch {
	case w.RunCount == nil:
		return types.Result{}, newDecodeError(line, ErrMissingField, "result.runCount", nil)
	case w.FailureCount == nil:
		return types.Result{}, newDecodeError(line, ErrMissingField, "result.failureCount", nil)
	case w.IgnoreCount == nil:
		return types.Result{}, newDecodeError(line, ErrMissingField, "result.ignoreCount", nil)
	case w.ElapsedMillis == nil:
		return types.Result{}, newDecodeError(line, ErrMissingField, "result.elapsedMillis", nil)
	}
	return types.Result{
		RunCount:     *w.RunCount,
		FailureCount: *w.FailureCount,
		IgnoreCount:  *w.IgnoreCount,
		RunTime:      time.Duration(*w.ElapsedMillis) * time.Millisecond,
	}, nil
}

func encodeFailure(f types.Failure) *wireFailure {
	return &wireFailure{
		Description:   encodeDescription(f.Description),
		wireException: *encodeException(&f.Exception),
	}
}

func decodeFailure(line []byte, w *wireFailure) (types.Failure, error) {
	desc, err := decodeDescription(line, w.Description, "failure.description")
	if err != nil {
		return types.Failure{}, err
	}
	return types.Failure{
		Description: desc,
		Exception:   *decodeException(&w.wireException),
	}, nil
}

func encodeException(e *types.Exception) *wireException {
	if e == nil {
		return nil
	}
	frames := make([]wireFrame, 0, len(e.StackFrames))
	for _, f := range e.StackFrames {
		frames = append(frames, wireFrame{Entity: f.Entity, Member: f.Member, File: f.File, Line: f.Line})
	}
	return &wireException{
		Message:     e.Message,
		StackFrames: frames,
		Cause:       encodeException(e.Cause),
	}
}

func decodeException(w *wireException) *types.Exception {
	if w == nil {
		return nil
	}
	// nil and empty both encode as [], decode to nil
	var frames []types.StackFrame
	if len(w.StackFrames) > 0 {
		frames = make([]types.StackFrame, 0, len(w.StackFrames))
		for _, f := range w.StackFrames {
			frames = append(frames, types.StackFrame{Entity: f.Entity, Member: f.Member, File: f.File, Line: f.Line})
		}
	}
	return &types.Exception{
		Message:     w.Message,
		StackFrames: frames,
		Cause:       decodeException(w.Cause),
	}
}
