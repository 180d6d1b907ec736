package runner

import "time"

// Test execution constants
const (
	// DefaultTestTimeout is the default timeout for one go test invocation
	DefaultTestTimeout = 10 * time.Minute

	// Default go binary name
	DefaultGoBinary = "go"

	// Test command arguments
	TestCommand = "test"
	JSONFlag    = "-json"
	TimeoutFlag = "-timeout"
	CountFlag   = "-count"
	RunFlag     = "-run"

	// Test count to disable caching
	DisableCacheCount = "1"

	// PackageFailureName is the method name reported when a package fails
	// without any of its tests running, typically a build failure
	PackageFailureName = "(package)"

	// DefaultSuiteName is the suite identity announced in RunStarted
	DefaultSuiteName = "go test"

	// stderr kept in memory per invocation
	defaultStderrTailBytes = 64 * 1024
	// largest test2json line accepted
	maxEventLineBytes = 16 * 1024 * 1024
)
