// Package reporting is the consumer of forwarded events on the host. It
// rebuilds the run from the event stream and renders it.
package reporting

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// ErrProtocolViolation is returned by Aggregator.Err when the stream broke
// one of the ordering rules
var ErrProtocolViolation = errors.New("protocol violation")

// Stats counts tests by status
type Stats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Errored int
}

// RunReport is the outcome of one collected run
type RunReport struct {
	RunID      string
	Suite      types.Description
	Tests      []types.TestResult
	Result     types.Result // as reported with RunFinished
	Finished   bool
	Status     types.TestStatus
	Stats      Stats
	Violations []string
}

var _ types.RunListener = (*Aggregator)(nil)

// Aggregator implements types.RunListener and keeps the tests of a run in
// the order they were first seen
type Aggregator struct {
	runID string
	now   func() time.Time

	mu         sync.Mutex
	started    bool
	finished   bool
	suite      types.Description
	tests      []*types.TestResult
	index      map[string]*types.TestResult
	terminal   map[string]types.ResultType
	result     types.Result
	violations []string
}

// NewAggregator creates an aggregator for the given run
func NewAggregator(runID string) *Aggregator {
	return &Aggregator{
		runID:    runID,
		now:      time.Now,
		index:    make(map[string]*types.TestResult),
		terminal: make(map[string]types.ResultType),
	}
}

func (a *Aggregator) RunStarted(suite types.Description) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		a.violate("duplicate %s for %s", types.TestRunStarted, suite.DisplayName)
		return
	}
	a.started = true
	a.suite = suite
}

func (a *Aggregator) TestStarted(desc types.Description) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.accept(types.TestStarted, desc) {
		return
	}
	test := a.entry(desc)
	test.StartTime = a.now()
}

func (a *Aggregator) TestIgnored(desc types.Description) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.accept(types.TestIgnored, desc) || !a.terminate(types.TestIgnored, desc) {
		return
	}
	a.entry(desc).Status = types.TestStatusSkip
}

func (a *Aggregator) TestFailure(failure types.Failure) {
	a.mu.Lock()
	defer a.mu.Unlock()
	desc := failure.Description
	if !a.accept(types.TestFailure, desc) || !a.terminate(types.TestFailure, desc) {
		return
	}
	test := a.entry(desc)
	test.Status = types.TestStatusFail
	test.Failure = &failure
	a.stopClock(test)
}

func (a *Aggregator) TestFinished(desc types.Description) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.accept(types.TestFinished, desc) || !a.terminate(types.TestFinished, desc) {
		return
	}
	test := a.entry(desc)
	test.Status = types.TestStatusPass
	a.stopClock(test)
}

func (a *Aggregator) RunFinished(result types.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.accept(types.TestRunFinished, types.Description{}) {
		return
	}
	a.finished = true
	a.result = result
}

// accept checks the event against the run boundaries
func (a *Aggregator) accept(rt types.ResultType, desc types.Description) bool {
	switch {
	case !a.started:
		a.violate("%s %s before %s", rt, desc.DisplayName, types.TestRunStarted)
		return false
	case a.finished:
		a.violate("%s %s after %s", rt, desc.DisplayName, types.TestRunFinished)
		return false
	}
	return true
}

// terminate records the terminal event of a test, rejecting a second one
func (a *Aggregator) terminate(rt types.ResultType, desc types.Description) bool {
	prev, done := a.terminal[desc.Key()]
	if !done {
		a.terminal[desc.Key()] = rt
		return true
	}
	if prev == types.TestFailure && rt == types.TestFinished {
		a.violate("%s forwarded for failed test %s", rt, desc.DisplayName)
	} else {
		a.violate("%s after %s for %s", rt, prev, desc.DisplayName)
	}
	return false
}

func (a *Aggregator) entry(desc types.Description) *types.TestResult {
	if test, ok := a.index[desc.Key()]; ok {
		return test
	}
	test := &types.TestResult{Description: desc}
	a.index[desc.Key()] = test
	a.tests = append(a.tests, test)
	return test
}

func (a *Aggregator) stopClock(test *types.TestResult) {
	if !test.StartTime.IsZero() {
		test.Duration = a.now().Sub(test.StartTime)
	}
}

func (a *Aggregator) violate(format string, args ...any) {
	a.violations = append(a.violations, fmt.Sprintf(format, args...))
}

// Err returns the protocol violations seen so far, including a missing
// RunFinished
func (a *Aggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	violations := a.violationsLocked()
	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrProtocolViolation, strings.Join(violations, "; "))
}

func (a *Aggregator) violationsLocked() []string {
	violations := append([]string(nil), a.violations...)
	if !a.finished {
		violations = append(violations, fmt.Sprintf("missing %s", types.TestRunFinished))
	}
	return violations
}

// Report returns a snapshot of the run. Tests without a terminal event are
// reported with the error status.
func (a *Aggregator) Report() RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := RunReport{
		RunID:      a.runID,
		Suite:      a.suite,
		Result:     a.result,
		Finished:   a.finished,
		Violations: a.violationsLocked(),
		Tests:      make([]types.TestResult, 0, len(a.tests)),
	}
	for _, test := range a.tests {
		t := *test
		if t.Status == "" {
			t.Status = types.TestStatusError
		}
		report.Tests = append(report.Tests, t)

		report.Stats.Total++
		switch t.Status {
		case types.TestStatusPass:
			report.Stats.Passed++
		case types.TestStatusFail:
			report.Stats.Failed++
		case types.TestStatusSkip:
			report.Stats.Skipped++
		default:
			report.Stats.Errored++
		}
	}
	report.Status = determineStatus(report)
	return report
}

// determineStatus prioritizes an incomplete or broken stream, then
// failures, then skips
func determineStatus(report RunReport) types.TestStatus {
	if len(report.Violations) > 0 || report.Stats.Errored > 0 {
		return types.TestStatusError
	}
	anyFailed := report.Stats.Failed > 0 || !report.Result.WasSuccessful()
	allSkipped := report.Stats.Total > 0 && report.Stats.Skipped == report.Stats.Total
	if anyFailed {
		return types.TestStatusFail
	}
	if allSkipped {
		return types.TestStatusSkip
	}
	return types.TestStatusPass
}

// RecordMetrics publishes the outcome of the run
func RecordMetrics(report RunReport) {
	metrics.RecordRun(report.RunID, report.Status, report.Result)
}
