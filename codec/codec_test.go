package codec

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

func sampleFailure() types.Failure {
	return types.Failure{
		Description: types.NewTestDescription("github.com/example/pkg", "TestB"),
		Exception: types.Exception{
			Message: "expected 1\ngot 2",
			StackFrames: []types.StackFrame{
				{Entity: "github.com/example/pkg", Member: "TestB", File: "b_test.go", Line: 41},
				{Entity: "testing", Member: "tRunner", File: "testing.go", Line: 1792},
			},
			Cause: &types.Exception{
				Message: "wrapped",
				Cause: &types.Exception{
					Message:     "root cause",
					StackFrames: []types.StackFrame{{Entity: "io", Member: "Read", File: "io.go", Line: -1}},
				},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		event types.Event
	}{
		{"run started", types.NewRunStarted(types.NewSuiteDescription("acceptance"))},
		{"test started", types.NewTestStarted(types.NewTestDescription("github.com/example/pkg", "TestA"))},
		{"test ignored", types.NewTestIgnored(types.NewTestDescription("github.com/example/pkg", "TestC"))},
		{"test finished", types.NewTestFinished(types.NewTestDescription("github.com/example/pkg", "TestA"))},
		{"test failure", types.NewTestFailure(sampleFailure())},
		{"failure without frames", types.NewTestFailure(types.Failure{
			Description: types.NewTestDescription("pkg", "TestE"),
		})},
		{"run finished", types.NewRunFinished(types.Result{
			RunCount: 2, FailureCount: 1, IgnoreCount: 1, RunTime: 1234 * time.Millisecond,
		})},
		{"empty run", types.NewRunFinished(types.Result{})},
		{"description without method", types.NewTestStarted(types.Description{
			ClassName: "github.com/example/pkg", DisplayName: "github.com/example/pkg",
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.event)
			require.NoError(t, err)
			assert.False(t, bytes.ContainsAny(data, "\r\n"), "record must fit on one line: %s", data)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.event, decoded)
		})
	}
}

func TestRoundTrip_CanonicalForms(t *testing.T) {
	desc := types.NewTestDescription("pkg", "TestE")
	tests := []struct {
		name  string
		event types.Event
		want  types.Event
	}{
		{
			name: "empty frames decode as nil",
			event: types.NewTestFailure(types.Failure{
				Description: desc,
				Exception:   types.Exception{Message: "boom", StackFrames: []types.StackFrame{}},
			}),
			want: types.NewTestFailure(types.Failure{
				Description: desc,
				Exception:   types.Exception{Message: "boom"},
			}),
		},
		{
			name: "invalid utf-8 is replaced",
			event: types.NewTestFailure(types.Failure{
				Description: desc,
				Exception:   types.Exception{Message: "a\xffb"},
			}),
			want: types.NewTestFailure(types.Failure{
				Description: desc,
				Exception:   types.Exception{Message: "a\uFFFDb"},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.event)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decoded)
		})
	}
}

func TestEncode_WireShape(t *testing.T) {
	data, err := Encode(types.NewTestFailure(sampleFailure()))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, 6, raw["resultType"])
	assert.NotContains(t, raw, "description")
	assert.NotContains(t, raw, "result")

	failure := raw["failure"].(map[string]any)
	assert.Equal(t, "expected 1\ngot 2", failure["message"])
	desc := failure["description"].(map[string]any)
	assert.Equal(t, "github.com/example/pkg", desc["className"])
	assert.Equal(t, "TestB", desc["methodName"])
	assert.Equal(t, "TestB(github.com/example/pkg)", desc["displayName"])

	frames := failure["stackFrames"].([]any)
	require.Len(t, frames, 2)
	assert.Equal(t, map[string]any{
		"entity": "github.com/example/pkg", "member": "TestB", "file": "b_test.go", "line": float64(41),
	}, frames[0])

	cause := failure["cause"].(map[string]any)
	assert.Equal(t, "wrapped", cause["message"])
	assert.NotContains(t, cause, "description")
	assert.Contains(t, cause, "cause")

	data, err = Encode(types.NewRunFinished(types.Result{RunCount: 3, FailureCount: 1, RunTime: 2 * time.Second}))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"resultType":3,"result":{"runCount":3,"failureCount":1,"ignoreCount":0,"elapsedMillis":2000}}`,
		string(data))

	data, err = Encode(types.NewRunStarted(types.NewSuiteDescription("suite")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"resultType":2,"description":{"className":"suite","displayName":"suite"}}`, string(data))
}

func TestEncode_InvalidEvent(t *testing.T) {
	_, err := Encode(types.Event{Type: types.TestFailure})
	require.ErrorIs(t, err, types.ErrPayloadMismatch)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		record  string
		wantErr error
		field   string
	}{
		{name: "empty", record: "", wantErr: ErrMalformedRecord},
		{name: "plain text", record: "Transmitting to host", wantErr: ErrMalformedRecord},
		{name: "json array", record: `[1,2,3]`, wantErr: ErrMalformedRecord},
		{name: "json null", record: `null`, wantErr: ErrMalformedRecord},
		{name: "truncated object", record: `{"resultType":4,"description":{"className":"a"`, wantErr: ErrMalformedRecord},
		{name: "wrong field type", record: `{"resultType":"four"}`, wantErr: ErrMalformedRecord},
		{name: "no discriminator", record: `{"description":{"className":"a","displayName":"a"}}`, wantErr: ErrMissingField, field: "resultType"},
		{name: "unknown discriminator", record: `{"resultType":7,"description":{"className":"a","displayName":"a"}}`, wantErr: ErrUnknownResultType, field: "resultType"},
		{name: "zero discriminator", record: `{"resultType":0}`, wantErr: ErrUnknownResultType},
		{name: "failure without failure payload", record: `{"resultType":6}`, wantErr: ErrMissingField, field: "failure"},
		{name: "failure with null payload", record: `{"resultType":6,"failure":null}`, wantErr: ErrMissingField, field: "failure"},
		{name: "failure carrying a description", record: `{"resultType":6,"description":{"className":"a","displayName":"a"}}`, wantErr: ErrMissingField, field: "failure"},
		{name: "failure without identity", record: `{"resultType":6,"failure":{"message":"boom","stackFrames":[]}}`, wantErr: ErrMissingField, field: "failure.description"},
		{name: "failure identity without display name", record: `{"resultType":6,"failure":{"description":{"className":"a"},"stackFrames":[]}}`, wantErr: ErrMissingField, field: "failure.description.displayName"},
		{name: "started without description", record: `{"resultType":4}`, wantErr: ErrMissingField, field: "description"},
		{name: "started without display name", record: `{"resultType":4,"description":{"className":"a"}}`, wantErr: ErrMissingField, field: "description.displayName"},
		{name: "run finished without result", record: `{"resultType":3}`, wantErr: ErrMissingField, field: "result"},
		{name: "run finished missing count", record: `{"resultType":3,"result":{"runCount":1,"failureCount":0,"elapsedMillis":5}}`, wantErr: ErrMissingField, field: "result.ignoreCount"},
		{name: "two payloads", record: `{"resultType":5,"description":{"className":"a","displayName":"a"},"result":{"runCount":1,"failureCount":0,"ignoreCount":0,"elapsedMillis":5}}`, wantErr: ErrUnexpectedField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.record))
			require.Error(t, err)
			require.True(t, IsDecodeError(err), "want DecodeError, got %T", err)
			require.ErrorIs(t, err, tt.wantErr)

			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
			if tt.field != "" {
				assert.Equal(t, tt.field, decErr.Field)
			}
		})
	}
}

func TestDecode_LenientWhitespace(t *testing.T) {
	event, err := Decode([]byte("{\"resultType\":1,\"description\":{\"className\":\"a\",\"displayName\":\"x(a)\"}}\r"))
	require.NoError(t, err)
	assert.Equal(t, types.TestIgnored, event.Type)
	assert.Equal(t, "x(a)", event.Description.DisplayName)
}

func TestDecode_IgnoresUnknownKeys(t *testing.T) {
	event, err := Decode([]byte(`{"resultType":5,"description":{"className":"a","displayName":"x(a)","annotations":[1]},"extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, types.TestFinished, event.Type)
}

func TestDecodeError_Message(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 1000)
	_, err := Decode(long)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.LessOrEqual(t, len(decErr.Record), maxQuotedRecord+3)
	assert.Equal(t, "decode error: not a structural record", err.Error())

	_, err = Decode([]byte(`{"resultType":6}`))
	assert.Equal(t, `decode error: missing required field "failure"`, err.Error())
}
