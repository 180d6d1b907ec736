package runner

import (
	"bufio"
	"fmt"
	"io"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// testState tracks one top-level test between its run and terminal events
type testState struct {
	desc   types.Description
	output []string
}

// Translator turns a test2json stream into RunListener callbacks.
// Only top-level tests are reported; subtest output is attributed to the
// parent test. RunStarted and RunFinished are left to the caller.
type Translator struct {
	listener types.RunListener
	log      log.Logger

	running  map[string]*testState // package + "." + test
	order    []string              // keys of running tests in start order
	seen     map[string]int        // tests seen per package
	pkgLines map[string][]string   // package output not attributed to a test
}

// NewTranslator creates a translator that reports to l
func NewTranslator(l types.RunListener, logger log.Logger) *Translator {
	if logger == nil {
		logger = log.Root()
	}
	return &Translator{
		listener: l,
		log:      logger,
		running:  make(map[string]*testState),
		seen:     make(map[string]int),
		pkgLines: make(map[string][]string),
	}
}

// Consume reads test2json lines until EOF. Lines that are not JSON events
// are skipped.
func (t *Translator) Consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := parseTestEvent(line)
		if err != nil {
			t.log.Debug("Skipping non-JSON test output", "line", string(line))
			continue
		}
		t.Handle(event)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read test output: %w", err)
	}
	return nil
}

// Handle processes one test2json event
func (t *Translator) Handle(event TestEvent) {
	pkg := event.pkg()
	if event.Test == "" {
		t.handlePackageEvent(pkg, event)
		return
	}

	key := testKey(pkg, event.topLevel())
	if event.isSubtest() {
		if state, ok := t.running[key]; ok && event.Action == ActionOutput {
			state.output = append(state.output, stripansi.Strip(event.Output))
		}
		return
	}

	switch event.Action {
	case ActionRun:
		desc := types.NewTestDescription(pkg, event.Test)
		if _, dup := t.running[key]; dup {
			t.log.Warn("Test started twice", "test", desc.DisplayName)
			return
		}
		t.running[key] = &testState{desc: desc}
		t.order = append(t.order, key)
		t.seen[pkg]++
		t.listener.TestStarted(desc)
	case ActionOutput:
		if state, ok := t.running[key]; ok {
			state.output = append(state.output, stripansi.Strip(event.Output))
		}
	case ActionPass:
		if state := t.finish(key, pkg, event.Test); state != nil {
			t.listener.TestFinished(state.desc)
		}
	case ActionSkip:
		if state := t.finish(key, pkg, event.Test); state != nil {
			t.listener.TestIgnored(state.desc)
		}
	case ActionFail:
		if state := t.finish(key, pkg, event.Test); state != nil {
			t.fail(state, pkg, event.Test)
		}
	}
}

func (t *Translator) handlePackageEvent(pkg string, event TestEvent) {
	switch event.Action {
	case ActionOutput, ActionBuildOutput:
		t.pkgLines[pkg] = append(t.pkgLines[pkg], stripansi.Strip(event.Output))
	case ActionFail:
		t.failPackage(pkg, event.FailedBuild)
	case ActionPass, ActionSkip:
		t.abandon(pkg, "package finished before the test completed")
	}
}

// finish removes a running test. A terminal event for a test that never
// started is treated as a start immediately followed by the terminal event.
func (t *Translator) finish(key, pkg, test string) *testState {
	state, ok := t.running[key]
	if !ok {
		state = &testState{desc: types.NewTestDescription(pkg, test)}
		t.seen[pkg]++
		t.listener.TestStarted(state.desc)
		return state
	}
	delete(t.running, key)
	return state
}

func (t *Translator) fail(state *testState, pkg, test string) {
	failure := types.Failure{
		Description: state.desc,
		Exception:   buildException(pkg, test, state.output),
	}
	t.listener.TestFailure(failure)
	t.listener.TestFinished(state.desc)
}

// failPackage reports a package failure. Tests still running fail with the
// package output; a package without any test gets a synthetic failure.
func (t *Translator) failPackage(pkg, failedBuild string) {
	lines := t.pkgLines[pkg]
	delete(t.pkgLines, pkg)

	if t.seen[pkg] > 0 {
		for _, state := range t.drain(pkg) {
			state.output = append(state.output, lines...)
			t.fail(state, pkg, state.desc.MethodName)
		}
		return
	}

	desc := types.NewTestDescription(pkg, PackageFailureName)
	exception := buildException(pkg, "", lines)
	if exception.Message == defaultFailureMessage && failedBuild != "" {
		exception.Message = "build failed: " + failedBuild
	}
	t.log.Warn("Package failed without running tests", "package", pkg, "err", exception.Message)
	t.seen[pkg]++
	t.listener.TestStarted(desc)
	t.listener.TestFailure(types.Failure{Description: desc, Exception: exception})
	t.listener.TestFinished(desc)
}

// Flush fails every test that started but never reached a terminal event,
// e.g. because the test binary was killed
func (t *Translator) Flush() {
	t.abandon("", "test did not complete")
	clear(t.pkgLines)
}

func (t *Translator) abandon(pkg, reason string) {
	for _, state := range t.drain(pkg) {
		t.log.Warn("Test did not report a result", "test", state.desc.DisplayName)
		t.listener.TestFailure(types.Failure{
			Description: state.desc,
			Exception: types.Exception{
				Message: reason,
				Cause:   causeFromOutput(state),
			},
		})
		t.listener.TestFinished(state.desc)
	}
}

// drain removes and returns the running tests of pkg, or of every package
// when pkg is empty, in start order
func (t *Translator) drain(pkg string) []*testState {
	var out []*testState
	remaining := t.order[:0]
	for _, key := range t.order {
		state, ok := t.running[key]
		if !ok {
			continue
		}
		if pkg != "" && state.desc.ClassName != pkg {
			remaining = append(remaining, key)
			continue
		}
		delete(t.running, key)
		out = append(out, state)
	}
	t.order = remaining
	return out
}

func causeFromOutput(state *testState) *types.Exception {
	if len(state.output) == 0 {
		return nil
	}
	exception := buildException(state.desc.ClassName, state.desc.MethodName, state.output)
	if exception.Message == defaultFailureMessage && len(exception.StackFrames) == 0 {
		return nil
	}
	return &exception
}

func testKey(pkg, test string) string {
	return pkg + "." + test
}

// Running returns the display names of tests without a terminal event yet
func (t *Translator) Running() []string {
	var names []string
	for _, key := range t.order {
		if state, ok := t.running[key]; ok {
			names = append(names, state.desc.DisplayName)
		}
	}
	return names
}
