// Package bridge wires the collector and emitter sides into the two
// op-testbridge commands.
package bridge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testbridge/flags"
	"github.com/ethereum-optimism/infra/op-testbridge/launcher"
)

// CollectConfig holds the configuration of the collect command
type CollectConfig struct {
	ListenAddr  string
	Port        int
	RunID       string           // generated when empty
	LogDir      string           // raw records and summary, disabled when empty
	Target      *launcher.Target // started once the collector listens, if set
	ServiceAddr string           // healthz and feed endpoints, disabled when empty
	ShowEvents  bool
	ShowTrace   bool
	Metrics     opmetrics.CLIConfig
	Out         io.Writer // results table
	Log         log.Logger
}

// NewCollectConfig creates a CollectConfig from cli context
func NewCollectConfig(ctx *cli.Context, log log.Logger) (*CollectConfig, error) {
	if err := flags.CheckPort(ctx); err != nil {
		return nil, err
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir != "" {
		var err error
		logDir, err = filepath.Abs(logDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
		}
	}

	var target *launcher.Target
	if path := ctx.String(flags.Launch.Name); path != "" {
		t, err := launcher.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load target: %w", err)
		}
		target = &t
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &CollectConfig{
		ListenAddr:  ctx.String(flags.ListenAddr.Name),
		Port:        ctx.Int(flags.Port.Name),
		RunID:       ctx.String(flags.RunID.Name),
		LogDir:      logDir,
		Target:      target,
		ServiceAddr: ctx.String(flags.ServiceAddr.Name),
		ShowEvents:  ctx.Bool(flags.ShowEvents.Name),
		ShowTrace:   ctx.Bool(flags.ShowTrace.Name),
		Metrics:     metricsCfg,
		Out:         os.Stdout,
		Log:         log,
	}, nil
}

// RunConfig holds the configuration of the run command
type RunConfig struct {
	Host           string
	Port           int
	Tests          string // selection file
	Input          string // recorded test2json stream, "-" for Stdin
	WorkDir        string
	GoBinary       string
	Timeout        time.Duration
	SettleInterval time.Duration
	DialTimeout    time.Duration
	Suite          string
	Stdin          io.Reader
	Log            log.Logger
}

// NewRunConfig creates a RunConfig from cli context
func NewRunConfig(ctx *cli.Context, log log.Logger) (*RunConfig, error) {
	if err := flags.CheckRun(ctx); err != nil {
		return nil, err
	}
	if err := flags.CheckPort(ctx); err != nil {
		return nil, err
	}

	workDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for work directory '%s': %w", ctx.String(flags.WorkDir.Name), err)
	}

	tests := ctx.String(flags.Tests.Name)
	if tests != "" {
		tests, err = filepath.Abs(tests)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for test selection '%s': %w", tests, err)
		}
	}

	return &RunConfig{
		Host:           ctx.String(flags.Host.Name),
		Port:           ctx.Int(flags.Port.Name),
		Tests:          tests,
		Input:          ctx.String(flags.Input.Name),
		WorkDir:        workDir,
		GoBinary:       ctx.String(flags.GoBinary.Name),
		Timeout:        ctx.Duration(flags.Timeout.Name),
		SettleInterval: ctx.Duration(flags.SettleInterval.Name),
		DialTimeout:    ctx.Duration(flags.DialTimeout.Name),
		Suite:          ctx.String(flags.Suite.Name),
		Stdin:          os.Stdin,
		Log:            log,
	}, nil
}
