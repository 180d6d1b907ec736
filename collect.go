package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/ethereum-optimism/infra/op-testbridge/collector"
	"github.com/ethereum-optimism/infra/op-testbridge/launcher"
	"github.com/ethereum-optimism/infra/op-testbridge/logging"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
	"github.com/ethereum-optimism/infra/op-testbridge/service"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// Collect implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Collect{}

// Collect receives a single run on the host: it listens, optionally starts
// the target, reports the collected run and shuts the app down.
type Collect struct {
	config *CollectConfig
	log    log.Logger

	collector *collector.Collector
	service   *service.Service
	eventLog  *logging.EventLog
	report    atomic.Pointer[reporting.RunReport]

	listening chan struct{}
	running   atomic.Bool
	released  atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func NewCollect(config *CollectConfig, shutdownCallback func(error)) (*Collect, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = log.Root()
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}
	config.Log.Debug("Creating collect with config",
		"listenAddr", config.ListenAddr,
		"port", config.Port,
		"logDir", config.LogDir,
		"serviceAddr", config.ServiceAddr,
		"launch", config.Target != nil)

	return &Collect{
		config:           config,
		log:              config.Log,
		listening:        make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start collects the run and returns once it is reported.
// Start implements the cliapp.Lifecycle interface.
func (c *Collect) Start(ctx context.Context) (err error) {
	c.running.Store(true)
	defer func() {
		if err != nil {
			c.running.Store(false)
			if releaseErr := c.release(context.Background()); releaseErr != nil {
				c.log.Warn("Failed to release collect resources", "err", releaseErr)
			}
		}
	}()

	runID := c.config.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	c.log = c.log.New("run_id", runID)

	var records collector.RecordSink
	if c.config.LogDir != "" {
		eventLog, err := logging.NewEventLog(c.config.LogDir, runID, c.log)
		if err != nil {
			return NewRuntimeError(fmt.Errorf("failed to create event log: %w", err))
		}
		c.eventLog = eventLog
		records = eventLog
	}

	coll, err := collector.Listen(collector.Config{
		ListenAddr: c.config.ListenAddr,
		Port:       c.config.Port,
		RunID:      runID,
		Log:        c.config.Log,
		Records:    records,
	})
	if err != nil {
		return NewRuntimeError(err)
	}
	c.collector = coll

	c.service = service.New(c.log, coll)
	if err := c.service.Start(ctx, c.config.ServiceAddr); err != nil {
		return NewRuntimeError(err)
	}
	if err := c.service.StartMetrics(c.config.Metrics); err != nil {
		return NewRuntimeError(err)
	}
	close(c.listening)

	aggregator := reporting.NewAggregator(runID)
	listener := types.MultiListener{aggregator, c.service.Feed}
	if c.config.ShowEvents {
		listener = append(listener, &eventLogger{log: c.log})
	}

	collectErr := c.collect(ctx, listener)

	report := aggregator.Report()
	c.report.Store(&report)
	c.publish(report)

	if collectErr != nil {
		c.log.Error("Runtime error collecting run", "error", collectErr)
		return NewRuntimeError(collectErr)
	}
	c.log.Info("Run collected", "status", report.Status, "tests", report.Stats.Total)

	if report.Status == types.TestStatusFail || report.Status == types.TestStatusError {
		c.log.Warn("Collected run completed with failures, returning exit code 1")
		return NewTestFailureError(summarize(report))
	}

	go func() {
		c.shutdownCallback(nil)
	}()
	return nil
}

// collect streams the run into l while the target, if any, runs
func (c *Collect) collect(ctx context.Context, l types.RunListener) error {
	p := pool.New().
		WithErrors().
		WithFirstError().
		WithContext(ctx).
		WithCancelOnError()

	p.Go(func(ctx context.Context) error {
		return c.collector.Run(ctx, l)
	})

	if target := c.config.Target; target != nil {
		p.Go(func(ctx context.Context) error {
			err := launcher.Launch(ctx, c.log, *target, c.collector.Addr())
			if c.collector.State() == collector.StateListening {
				return errors.Join(ErrTargetNotConnected, err)
			}
			// The stream decides the outcome once the target connected
			if err != nil {
				c.log.Warn("Target exited with error", "err", err)
			}
			return nil
		})
	}

	return p.Wait()
}

func (c *Collect) publish(report reporting.RunReport) {
	reporting.TableReporter{Out: c.config.Out, Trace: c.config.ShowTrace}.Render(report)
	reporting.RecordMetrics(report)

	if c.eventLog != nil {
		if err := c.eventLog.Complete(report); err != nil {
			c.log.Warn("Failed to write run summary", "err", err)
		} else {
			c.log.Info("Run logs written", "dir", c.eventLog.Dir())
		}
	}
}

func summarize(report reporting.RunReport) string {
	msg := fmt.Sprintf("run %s finished with status %s: %d passed, %d failed, %d skipped, %d errored",
		report.RunID, report.Status, report.Stats.Passed, report.Stats.Failed, report.Stats.Skipped, report.Stats.Errored)
	if len(report.Violations) > 0 {
		msg += "; " + strings.Join(report.Violations, "; ")
	}
	return msg
}

// Listening is closed once the collector and the service endpoints are bound
func (c *Collect) Listening() <-chan struct{} {
	return c.listening
}

// Addr is the collector address, valid after Listening
func (c *Collect) Addr() string {
	return c.collector.Addr()
}

// Report returns the collected run, nil until Start returned
func (c *Collect) Report() *reporting.RunReport {
	return c.report.Load()
}

// Stop releases the collector and the service endpoints.
// Stop implements the cliapp.Lifecycle interface.
func (c *Collect) Stop(ctx context.Context) error {
	c.log.Info("Stopping op-testbridge collect")

	if !c.running.Load() {
		c.log.Debug("Service already stopped, nothing to do")
		return nil
	}
	c.running.Store(false)

	err := c.release(ctx)
	c.log.Info("op-testbridge collect stopped")
	return err
}

func (c *Collect) release(ctx context.Context) error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	var result error
	if c.collector != nil {
		if err := c.collector.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close collector: %w", err))
		}
	}
	if c.service != nil {
		if err := c.service.Shutdown(ctx); err != nil {
			result = errors.Join(result, err)
		}
	}
	return result
}

// Stopped returns true if the collect lifecycle is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (c *Collect) Stopped() bool {
	return !c.running.Load()
}

// eventLogger logs every collected event
type eventLogger struct {
	log log.Logger
}

func (e *eventLogger) RunStarted(suite types.Description) {
	e.log.Info("Run started", "suite", suite.DisplayName)
}

func (e *eventLogger) TestStarted(desc types.Description) {
	e.log.Info("Test started", "test", desc.DisplayName)
}

func (e *eventLogger) TestIgnored(desc types.Description) {
	e.log.Info("Test ignored", "test", desc.DisplayName)
}

func (e *eventLogger) TestFailure(failure types.Failure) {
	e.log.Info("Test failed", "test", failure.Description.DisplayName, "message", failure.Message())
}

func (e *eventLogger) TestFinished(desc types.Description) {
	e.log.Info("Test finished", "test", desc.DisplayName)
}

func (e *eventLogger) RunFinished(result types.Result) {
	e.log.Info("Run finished", "run", result.RunCount, "failed", result.FailureCount,
		"ignored", result.IgnoreCount, "elapsed", result.RunTime)
}
