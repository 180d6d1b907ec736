// Package exitcodes defines the standard exit codes used by op-testbridge.
package exitcodes

// Exit code constants used by op-testbridge
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when the collected run passed
// * TestFailure (1): Used when the run reported failures or broke the event protocol
// * RuntimeErr (2): Used for runtime errors such as bind or dial failures and corrupt streams
const (
	Success     = 0 // Run passed
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)
