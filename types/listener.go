package types

// RunListener receives test lifecycle callbacks, one method per event type.
// Callbacks are invoked synchronously in the order the framework produces them.
type RunListener interface {
	RunStarted(suite Description)
	TestStarted(desc Description)
	TestIgnored(desc Description)
	TestFailure(failure Failure)
	TestFinished(desc Description)
	RunFinished(result Result)
}

// Dispatch invokes the callback of l that matches the event type.
// Events failing Validate are ignored and reported as an error.
func Dispatch(e Event, l RunListener) error {
	if err := e.Validate(); err != nil {
		return err
	}
	switch e.Type {
	case TestRunStarted:
		l.RunStarted(*e.Description)
	case TestStarted:
		l.TestStarted(*e.Description)
	case TestIgnored:
		l.TestIgnored(*e.Description)
	case TestFailure:
		l.TestFailure(*e.Failure)
	case TestFinished:
		l.TestFinished(*e.Description)
	case TestRunFinished:
		l.RunFinished(*e.Result)
	}
	return nil
}

var _ RunListener = MultiListener(nil)

// MultiListener forwards every callback to each listener in order
type MultiListener []RunListener

func (m MultiListener) RunStarted(suite Description) {
	for _, l := range m {
		l.RunStarted(suite)
	}
}

func (m MultiListener) TestStarted(desc Description) {
	for _, l := range m {
		l.TestStarted(desc)
	}
}

func (m MultiListener) TestIgnored(desc Description) {
	for _, l := range m {
		l.TestIgnored(desc)
	}
}

func (m MultiListener) TestFailure(failure Failure) {
	for _, l := range m {
		l.TestFailure(failure)
	}
}

func (m MultiListener) TestFinished(desc Description) {
	for _, l := range m {
		l.TestFinished(desc)
	}
}

func (m MultiListener) RunFinished(result Result) {
	for _, l := range m {
		l.RunFinished(result)
	}
}

var _ RunListener = (*Recorder)(nil)

// Recorder stores every callback as an Event. Useful wherever the raw
// sequence matters more than its interpretation.
type Recorder struct {
	Events []Event
}

func (r *Recorder) RunStarted(suite Description) { r.Events = append(r.Events, NewRunStarted(suite)) }
func (r *Recorder) TestStarted(desc Description) { r.Events = append(r.Events, NewTestStarted(desc)) }
func (r *Recorder) TestIgnored(desc Description) { r.Events = append(r.Events, NewTestIgnored(desc)) }
func (r *Recorder) TestFailure(failure Failure) { r.Events = append(r.Events, NewTestFailure(failure)) }
func (r *Recorder) TestFinished(desc Description) {
	r.Events = append(r.Events, NewTestFinished(desc))
}
func (r *Recorder) RunFinished(result Result) { r.Events = append(r.Events, NewRunFinished(result)) }

// Types returns the recorded result types in order
func (r *Recorder) Types() []ResultType {
	out := make([]ResultType, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
