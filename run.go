package bridge

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testbridge/emitter"
	"github.com/ethereum-optimism/infra/op-testbridge/runner"
	"github.com/ethereum-optimism/infra/op-testbridge/testlist"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// StdinInput selects the run's standard input as the recorded stream
const StdinInput = "-"

// Run executes the selected tests, or replays a recorded stream, and
// forwards the run to the collector.
func Run(ctx context.Context, cfg *RunConfig) error {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}

	em, err := emitter.New(ctx, emitter.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		SettleInterval: cfg.SettleInterval,
		DialTimeout:    cfg.DialTimeout,
		Log:            cfg.Log,
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to connect to collector: %w", err))
	}
	defer func() {
		if err := em.Close(); err != nil {
			cfg.Log.Warn("Failed to close emitter", "err", err)
		}
	}()

	r, err := runner.New(runner.Config{
		Suite: cfg.Suite,
		Executor: &runner.Executor{
			WorkDir:  cfg.WorkDir,
			GoBinary: cfg.GoBinary,
			Timeout:  cfg.Timeout,
			Log:      cfg.Log,
		},
		Listener: em,
		Log:      cfg.Log,
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create test runner: %w", err))
	}

	result, err := forward(ctx, cfg, r)
	stats := em.Stats()
	cfg.Log.Info("Run forwarded",
		"sent", stats.Sent, "suppressed", stats.Suppressed, "dropped", stats.Dropped, "failed", stats.Failed,
		"run", result.RunCount, "failures", result.FailureCount, "ignored", result.IgnoreCount)
	if err != nil {
		return NewRuntimeError(err)
	}
	if !result.WasSuccessful() {
		return NewTestFailureError(fmt.Sprintf("%d of %d tests failed", result.FailureCount, result.RunCount))
	}
	return nil
}

func forward(ctx context.Context, cfg *RunConfig, r *runner.Runner) (types.Result, error) {
	if cfg.Input != "" {
		in, closeInput, err := openInput(cfg)
		if err != nil {
			return types.Result{}, err
		}
		defer closeInput()
		return r.Replay(ctx, in)
	}

	entries, err := testlist.Load(cfg.Tests)
	if err != nil {
		return types.Result{}, err
	}
	entries = testlist.Filter(cfg.Log, entries, cfg.WorkDir)
	cfg.Log.Info("Running selected tests", "count", len(entries))
	return r.Run(ctx, entries)
}

func openInput(cfg *RunConfig) (io.Reader, func(), error) {
	if cfg.Input == StdinInput {
		if cfg.Stdin == nil {
			return os.Stdin, func() {}, nil
		}
		return cfg.Stdin, func() {}, nil
	}
	f, err := os.Open(cfg.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open recorded stream: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
