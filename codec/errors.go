package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedRecord   = errors.New("not a structural record")
	ErrUnknownResultType = errors.New("unknown result type")
	ErrMissingField      = errors.New("missing required field")
	ErrUnexpectedField   = errors.New("unexpected field")
)

// maxQuotedRecord limits how much of an offending record is kept in the error
const maxQuotedRecord = 256

// DecodeError reports a record that could not be turned into an event
type DecodeError struct {
	Kind   error  // one of the Err* sentinels above
	Field  string // offending field, if any
	Record string // the record, truncated
	Err    error  // underlying cause, if any
}

func newDecodeError(line []byte, kind error, field string, cause error) *DecodeError {
	rec := string(line)
	if len(rec) > maxQuotedRecord {
		rec = rec[:maxQuotedRecord] + "..."
	}
	return &DecodeError{Kind: kind, Field: field, Record: rec, Err: cause}
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode error: ")
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " %q", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the sentinel kind and the underlying cause to errors.Is / errors.As
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsDecodeError checks if the error is or wraps a DecodeError
func IsDecodeError(err error) bool {
	var decErr *DecodeError
	return err != nil && errors.As(err, &decErr)
}
