package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testbridge/testlist"
)

var _ TestExecutor = (*Executor)(nil)

// TestExecutor runs one selection entry and hands its test2json stream to
// consume. Test failures are part of the stream, not an error.
type TestExecutor interface {
	Execute(ctx context.Context, entry testlist.Entry, consume func(io.Reader) error) error
}

// ExecError is a go test invocation that could not run or exited abnormally
type ExecError struct {
	Entry    testlist.Entry
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("go test %s: %v", e.Entry, e.Err)
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

// Unwrap implements the errors.Unwrap interface
func (e *ExecError) Unwrap() error {
	return e.Err
}

// Executor runs `go test -json` once per entry
type Executor struct {
	WorkDir  string
	GoBinary string
	Timeout  time.Duration
	Env      []string // appended to the current environment
	Log      log.Logger
}

// Execute runs the entry and streams its stdout into consume. Exit code 1
// means tests failed and is not an error.
func (e *Executor) Execute(ctx context.Context, entry testlist.Entry, consume func(io.Reader) error) error {
	if entry.Package == "" {
		return fmt.Errorf("package cannot be empty")
	}
	logger := e.Log
	if logger == nil {
		logger = log.Root()
	}
	goBinary := e.GoBinary
	if goBinary == "" {
		goBinary = DefaultGoBinary
	}

	args := e.buildTestArgs(entry)
	cmd := exec.CommandContext(ctx, goBinary, args...)
	cmd.Dir = e.WorkDir
	cmd.Env = append(os.Environ(), e.Env...)
	stderr := newTailBuffer(defaultStderrTailBytes)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ExecError{Entry: entry, Err: err}
	}

	logger.Info("Running tests", "package", entry.Package, "test", entry.Test, "cmd", goBinary+" "+strings.Join(args, " "))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &ExecError{Entry: entry, Err: fmt.Errorf("failed to start: %w", err)}
	}

	consumeErr := consume(stdout)
	if consumeErr != nil {
		// keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stdout)
	}
	runErr := cmd.Wait()
	logger.Debug("Tests finished", "package", entry.Package, "duration", time.Since(start))

	if runErr != nil {
		exitErr := &exec.ExitError{}
		switch {
		case ctx.Err() != nil:
			return &ExecError{Entry: entry, Stderr: stderr.String(), Err: errors.Join(ctx.Err(), runErr)}
		case errors.As(runErr, &exitErr) && exitErr.ExitCode() == 1:
			// Expected test failure, reported through the stream
		case errors.As(runErr, &exitErr):
			return &ExecError{Entry: entry, ExitCode: exitErr.ExitCode(), Stderr: stderr.String(), Err: runErr}
		default:
			return &ExecError{Entry: entry, Stderr: stderr.String(), Err: runErr}
		}
	}
	if consumeErr != nil {
		return &ExecError{Entry: entry, Err: consumeErr}
	}
	return nil
}

func (e *Executor) buildTestArgs(entry testlist.Entry) []string {
	args := []string{TestCommand, JSONFlag, CountFlag, DisableCacheCount}

	if e.Timeout > 0 {
		args = append(args, TimeoutFlag, e.Timeout.String())
	}
	if pattern := entry.RunPattern(); pattern != "" {
		args = append(args, RunFlag, pattern)
	}

	return append(args, entry.Package)
}
