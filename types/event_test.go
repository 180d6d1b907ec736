package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultType_String(t *testing.T) {
	assert.Equal(t, "failure", TestFailure.String())
	assert.Equal(t, "run_started", TestRunStarted.String())
	assert.Equal(t, "unknown(42)", ResultType(42).String())
}

func TestResultType_WireValues(t *testing.T) {
	// These values are shared with every deployed emitter
	assert.Equal(t, 1, int(TestIgnored))
	assert.Equal(t, 2, int(TestRunStarted))
	assert.Equal(t, 3, int(TestRunFinished))
	assert.Equal(t, 4, int(TestStarted))
	assert.Equal(t, 5, int(TestFinished))
	assert.Equal(t, 6, int(TestFailure))
	assert.Len(t, ResultTypes(), 6)
}

func TestEvent_Validate(t *testing.T) {
	desc := NewTestDescription("pkg/a", "TestA")

	tests := []struct {
		name    string
		event   Event
		wantErr error
	}{
		{name: "run started", event: NewRunStarted(NewSuiteDescription("suite"))},
		{name: "test started", event: NewTestStarted(desc)},
		{name: "test ignored", event: NewTestIgnored(desc)},
		{name: "test finished", event: NewTestFinished(desc)},
		{name: "test failure", event: NewTestFailure(Failure{Description: desc})},
		{name: "run finished", event: NewRunFinished(Result{})},
		{
			name:    "unknown type",
			event:   Event{Type: 9, Description: &desc},
			wantErr: ErrUnknownResultType,
		},
		{
			name:    "failure without payload",
			event:   Event{Type: TestFailure},
			wantErr: ErrPayloadMismatch,
		},
		{
			name:    "finished carrying a result",
			event:   Event{Type: TestFinished, Description: &desc, Result: &Result{}},
			wantErr: ErrPayloadMismatch,
		},
		{
			name:    "run finished with description",
			event:   Event{Type: TestRunFinished, Description: &desc},
			wantErr: ErrPayloadMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEvent_Subject(t *testing.T) {
	desc := NewTestDescription("pkg/a", "TestA")
	assert.Equal(t, desc, NewTestStarted(desc).Subject())
	assert.Equal(t, desc, NewTestFailure(Failure{Description: desc}).Subject())
	assert.Equal(t, Description{}, NewRunFinished(Result{RunCount: 1}).Subject())
	assert.True(t, NewRunFinished(Result{}).IsTerminal())
	assert.False(t, NewTestFinished(desc).IsTerminal())
}

func TestEvent_String(t *testing.T) {
	desc := NewTestDescription("pkg/a", "TestA")
	assert.Equal(t, "started(TestA(pkg/a))", NewTestStarted(desc).String())
	assert.Equal(t, "run_finished{run=2 failed=1 ignored=0 time=1.5s}",
		NewRunFinished(Result{RunCount: 2, FailureCount: 1, RunTime: 1500 * time.Millisecond}).String())
}

func TestDispatch(t *testing.T) {
	a := NewTestDescription("pkg", "TestA")
	events := []Event{
		NewRunStarted(NewSuiteDescription("suite")),
		NewTestStarted(a),
		NewTestFailure(Failure{Description: a}),
		NewTestFinished(a),
		NewTestIgnored(NewTestDescription("pkg", "TestB")),
		NewRunFinished(Result{RunCount: 1, FailureCount: 1, IgnoreCount: 1}),
	}

	rec := &Recorder{}
	for _, e := range events {
		require.NoError(t, Dispatch(e, rec))
	}
	assert.Equal(t, events, rec.Events)

	err := Dispatch(Event{Type: TestStarted}, rec)
	require.ErrorIs(t, err, ErrPayloadMismatch)
	assert.Len(t, rec.Events, len(events), "invalid events must not reach the listener")
}

func TestMultiListener(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	m := MultiListener{first, second}

	m.RunStarted(NewSuiteDescription("suite"))
	m.TestStarted(NewTestDescription("pkg", "TestA"))
	m.RunFinished(Result{RunCount: 1})

	want := []ResultType{TestRunStarted, TestStarted, TestRunFinished}
	assert.Equal(t, want, first.Types())
	assert.Equal(t, want, second.Types())
}
