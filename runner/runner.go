// Package runner adapts `go test -json` to the RunListener callbacks the
// emitter forwards to the host.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testbridge/testlist"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// Config holds configuration for creating a new runner
type Config struct {
	Suite    string
	Executor TestExecutor
	Listener types.RunListener
	Log      log.Logger
}

// Runner drives one run: RunStarted, every selected entry, RunFinished
type Runner struct {
	suite    types.Description
	executor TestExecutor
	listener types.RunListener
	log      log.Logger
	tracer   trace.Tracer
}

// New creates a new runner
func New(cfg Config) (*Runner, error) {
	if cfg.Listener == nil {
		return nil, errors.New("listener is required")
	}
	if cfg.Suite == "" {
		cfg.Suite = DefaultSuiteName
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return &Runner{
		suite:    types.NewSuiteDescription(cfg.Suite),
		executor: cfg.Executor,
		listener: cfg.Listener,
		log:      cfg.Log.New("component", "runner", "suite", cfg.Suite),
		tracer:   otel.Tracer("test runner"),
	}, nil
}

// Run executes every entry within a single run. Execution errors do not
// stop the run; they are joined and returned after RunFinished was sent.
func (r *Runner) Run(ctx context.Context, entries []testlist.Entry) (types.Result, error) {
	if r.executor == nil && len(entries) > 0 {
		return types.Result{}, errors.New("no test executor configured")
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("run %s", r.suite.DisplayName),
		trace.WithAttributes(attribute.Int("entries", len(entries))))
	defer span.End()

	return r.run(func(tr *Translator) error {
		var errs []error
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			if err := r.runEntry(ctx, tr, entry); err != nil {
				r.log.Error("Failed to run tests", "entry", entry, "err", err)
				span.RecordError(err)
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			span.SetStatus(codes.Error, "test execution failed")
		}
		return errors.Join(errs...)
	})
}

// Replay translates a recorded test2json stream within a single run
func (r *Runner) Replay(ctx context.Context, in io.Reader) (types.Result, error) {
	_, span := r.tracer.Start(ctx, fmt.Sprintf("replay %s", r.suite.DisplayName))
	defer span.End()

	return r.run(func(tr *Translator) error {
		return tr.Consume(in)
	})
}

func (r *Runner) run(body func(*Translator) error) (types.Result, error) {
	tally := NewTally()
	tally.RunStarted(r.suite)
	r.listener.RunStarted(r.suite)

	tr := NewTranslator(types.MultiListener{tally, r.listener}, r.log)
	err := body(tr)
	tr.Flush()

	result := tally.Result()
	r.log.Info("Run finished", "run", result.RunCount, "failed", result.FailureCount,
		"ignored", result.IgnoreCount, "time", result.RunTime)
	r.listener.RunFinished(result)
	return result, err
}

func (r *Runner) runEntry(ctx context.Context, tr *Translator, entry testlist.Entry) error {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("entry %s", entry))
	defer span.End()

	err := r.executor.Execute(ctx, entry, tr.Consume)
	if pending := tr.Running(); len(pending) > 0 {
		r.log.Warn("Tests still running after go test exited", "entry", entry, "tests", pending)
	}
	tr.Flush()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
