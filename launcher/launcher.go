// Package launcher starts the target process that runs the tests and
// connects back to the collector.
package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc"
	"gopkg.in/yaml.v3"
)

// Environment variables the target reads to find the collector
const (
	HostEnvVar = "OP_TESTBRIDGE_HOST"
	PortEnvVar = "OP_TESTBRIDGE_PORT"
)

// Target describes how to start the target process
type Target struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Validate checks that the target can be started
func (t Target) Validate() error {
	if t.Command == "" {
		return errors.New("target command is required")
	}
	return nil
}

func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Command
}

// Load reads a target description from a YAML file
func Load(path string) (Target, error) {
	log.Debug("Reading target file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return Target{}, fmt.Errorf("reading target file: %w", err)
	}

	var target Target
	if err := yaml.Unmarshal(data, &target); err != nil {
		return Target{}, fmt.Errorf("parsing target file: %w", err)
	}
	if err := target.Validate(); err != nil {
		return Target{}, fmt.Errorf("%s: %w", path, err)
	}
	return target, nil
}

// LaunchError is a target process that could not start or exited non-zero
type LaunchError struct {
	Target   string
	ExitCode int
	Err      error
}

func (e *LaunchError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("target %s exited with code %d: %v", e.Target, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("target %s: %v", e.Target, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Launch runs the target once and waits for it to exit. hostAddr is the
// collector address; a wildcard listen host is passed on as loopback.
// Output lines are forwarded to the logger.
func Launch(ctx context.Context, logger log.Logger, target Target, hostAddr string) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = log.Root()
	}
	logger = logger.New("component", "launcher", "target", target.label())

	host, port, err := net.SplitHostPort(hostAddr)
	if err != nil {
		return fmt.Errorf("invalid host address %q: %w", hostAddr, err)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}

	cmd := exec.CommandContext(ctx, target.Command, target.Args...)
	cmd.Dir = target.Dir
	cmd.Env = append(os.Environ(), targetEnv(target.Env)...)
	cmd.Env = append(cmd.Env, HostEnvVar+"="+host, PortEnvVar+"="+port)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &LaunchError{Target: target.label(), Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &LaunchError{Target: target.label(), Err: err}
	}

	logger.Info("Launching target", "cmd", strings.Join(append([]string{target.Command}, target.Args...), " "),
		"host", host, "port", port)
	if err := cmd.Start(); err != nil {
		return &LaunchError{Target: target.label(), Err: fmt.Errorf("failed to start: %w", err)}
	}

	var wg conc.WaitGroup
	wg.Go(func() { forward(logger, "stdout", stdout) })
	wg.Go(func() { forward(logger, "stderr", stderr) })
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		launchErr := &LaunchError{Target: target.label(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			launchErr.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			launchErr.Err = errors.Join(ctx.Err(), err)
		}
		return launchErr
	}
	logger.Info("Target exited")
	return nil
}

func forward(logger log.Logger, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Info(scanner.Text(), "stream", stream)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Failed to read target output", "stream", stream, "err", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

// targetEnv renders the env map in a stable order
func targetEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
