package flags

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-testbridge/emitter"
)

const EnvVarPrefix = "OP_TESTBRIDGE"

// Shared by both commands. The launcher exports the same env vars to the
// target, so a launched `run` finds the collector without flags.
var (
	Port = &cli.IntFlag{
		Name:    "port",
		Value:   8889,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PORT"),
		Usage:   "TCP port of the collector",
	}
)

// Collect (host side) flags
var (
	ListenAddr = &cli.StringFlag{
		Name:    "listen-addr",
		Value:   "0.0.0.0",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LISTEN_ADDR"),
		Usage:   "Address the collector listens on",
	}
	RunID = &cli.StringFlag{
		Name:    "run-id",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_ID"),
		Usage:   "Identifier of the collected run. A random one is generated when empty.",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory to store the raw event records and the run summary. Empty disables it.",
	}
	Launch = &cli.StringFlag{
		Name:    "launch",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LAUNCH"),
		Usage:   "Path to a target file (eg. 'target.yaml') describing the process to start once the collector listens",
	}
	ServiceAddr = &cli.StringFlag{
		Name:    "service-addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVICE_ADDR"),
		Usage:   "Address for the healthz and websocket feed endpoints (eg. '0.0.0.0:8080'). Empty disables them.",
	}
	ShowEvents = &cli.BoolFlag{
		Name:    "show-events",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_EVENTS"),
		Usage:   "Log every collected event",
	}
	ShowTrace = &cli.BoolFlag{
		Name:    "show-trace",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_TRACE"),
		Usage:   "Print the full failure chain of failed tests in the results table",
	}
)

// Run (target side) flags
var (
	Host = &cli.StringFlag{
		Name:    "host",
		Value:   "127.0.0.1",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HOST"),
		Usage:   "Host of the collector",
	}
	Tests = &cli.StringFlag{
		Name:    "tests",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTS"),
		Usage:   "Path to the test selection file, one 'package#TestName' per line",
	}
	Input = &cli.StringFlag{
		Name:    "input",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INPUT"),
		Usage:   "Path to a recorded 'go test -json' stream to forward instead of running tests. '-' reads stdin.",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKDIR"),
		Usage:   "Directory the selected packages are resolved and run in",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   10 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Timeout of each selected test (e.g. '1h', '30m'). 0 disables it.",
	}
	SettleInterval = &cli.DurationFlag{
		Name:    "settle-interval",
		Value:   emitter.DefaultSettleInterval,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTLE_INTERVAL"),
		Usage:   "Pause after the run finished event before closing the connection",
	}
	DialTimeout = &cli.DurationFlag{
		Name:    "dial-timeout",
		Value:   emitter.DefaultDialTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DIAL_TIMEOUT"),
		Usage:   "Timeout for connecting to the collector",
	}
	Suite = &cli.StringFlag{
		Name:    "suite",
		Value:   "go test",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITE"),
		Usage:   "Display name of the run",
	}
)

var collectFlags = []cli.Flag{
	Port,
	ListenAddr,
	RunID,
	LogDir,
	Launch,
	ServiceAddr,
	ShowEvents,
	ShowTrace,
}

var runFlags = []cli.Flag{
	Host,
	Port,
	Tests,
	Input,
	WorkDir,
	GoBinary,
	Timeout,
	SettleInterval,
	DialTimeout,
	Suite,
}

var (
	CollectFlags []cli.Flag
	RunFlags     []cli.Flag
)

func init() {
	collectFlags = append(collectFlags, oplog.CLIFlags(EnvVarPrefix)...)
	collectFlags = append(collectFlags, opmetrics.CLIFlags(EnvVarPrefix)...)
	runFlags = append(runFlags, oplog.CLIFlags(EnvVarPrefix)...)

	CollectFlags = collectFlags
	RunFlags = runFlags
}

// CheckRun validates that exactly one test source is given
func CheckRun(ctx *cli.Context) error {
	tests, input := ctx.String(Tests.Name), ctx.String(Input.Name)
	switch {
	case tests == "" && input == "":
		return fmt.Errorf("one of --%s or --%s is required", Tests.Name, Input.Name)
	case tests != "" && input != "":
		return fmt.Errorf("--%s and --%s are mutually exclusive", Tests.Name, Input.Name)
	}
	return nil
}

// CheckPort validates a port flag value
func CheckPort(ctx *cli.Context) error {
	port := ctx.Int(Port.Name)
	if port < 0 || port > 65535 {
		return errors.New("port must be between 0 and 65535")
	}
	return nil
}
