package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	bridge "github.com/ethereum-optimism/infra/op-testbridge"
	"github.com/ethereum-optimism/infra/op-testbridge/exitcodes"
	"github.com/ethereum-optimism/infra/op-testbridge/flags"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testbridge"
	app.Usage = "Forwards test run lifecycle events from a target to the host"
	app.Description = "op-testbridge collects the results of tests running in another process or machine"
	app.Commands = []*cli.Command{
		{
			Name:   "collect",
			Usage:  "Listen for one test run and report it",
			Flags:  cliapp.ProtectFlags(flags.CollectFlags),
			Action: cliapp.LifecycleCmd(collect),
		},
		{
			Name:   "run",
			Usage:  "Run tests and forward their events to the collector",
			Flags:  cliapp.ProtectFlags(flags.RunFlags),
			Action: run,
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		// RuntimeError and TestFailureError carry their exit code, also when
		// joined with lifecycle errors
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(cli.Exit(err.Error(), exitErr.ExitCode()))
			return
		}
		// Flag parsing and other unclassified errors
		cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func setupLogger(ctx *cli.Context) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()
	return log
}

func collect(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	log := setupLogger(ctx)

	cfg, err := bridge.NewCollectConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, bridge.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	c, err := bridge.NewCollect(cfg, closeApp)
	if err != nil {
		return nil, bridge.NewRuntimeError(fmt.Errorf("failed to create collect: %w", err))
	}
	return c, nil
}

func run(ctx *cli.Context) error {
	log := setupLogger(ctx)

	cfg, err := bridge.NewRunConfig(ctx, log)
	if err != nil {
		return bridge.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	return bridge.Run(ctxinterrupt.WithCancelOnInterrupt(ctx.Context), cfg)
}
