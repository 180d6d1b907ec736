package runner

import (
	"encoding/json"
	"strings"
	"time"
)

// Go test2json (TestEvent) action constants for JSON test output
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPause       = "pause"
	ActionCont        = "cont"
	ActionPass        = "pass"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBench       = "bench"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// TestEvent represents a single event from the go test JSON output
type TestEvent struct {
	Time        time.Time // Time the event occurred
	Action      string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package     string    // The package being tested
	Test        string    // The test function name (may be empty for package events)
	Output      string    // Output text (may be empty)
	Elapsed     float64   // Elapsed time in seconds for the specific action
	ImportPath  string    // Set on build-output and build-fail events
	FailedBuild string    // Set on a package fail caused by a build failure
}

// parseTestEvent parses a single line of test output into a TestEvent
func parseTestEvent(line []byte) (TestEvent, error) {
	var event TestEvent
	err := json.Unmarshal(line, &event)
	return event, err
}

// pkg returns the package the event belongs to. Build events carry an
// import path like "example.com/pkg [example.com/pkg.test]".
func (e TestEvent) pkg() string {
	if e.Package != "" {
		return e.Package
	}
	path, _, _ := strings.Cut(e.ImportPath, " ")
	return path
}

// topLevel returns the top-level test name, "TestA" for subtest "TestA/case"
func (e TestEvent) topLevel() string {
	name, _, _ := strings.Cut(e.Test, "/")
	return name
}

func (e TestEvent) isSubtest() bool {
	return strings.Contains(e.Test, "/")
}
