// Package emitter is the target-side half of the bridge. It receives test
// lifecycle callbacks and forwards them to the host over one TCP connection.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testbridge/codec"
	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

const (
	// DefaultSettleInterval is how long each callback waits after writing a
	// record, giving the host time to process it before the next write or
	// the final close.
	DefaultSettleInterval = 2 * time.Second

	// DefaultDialTimeout bounds establishing the connection, nothing else
	DefaultDialTimeout = 10 * time.Second
)

var _ types.RunListener = (*Emitter)(nil)

// Config holds configuration for creating a new emitter.
// Zero durations are taken literally: no settle wait, no dial timeout.
type Config struct {
	Host           string
	Port           int
	SettleInterval time.Duration
	DialTimeout    time.Duration
	Log            log.Logger
}

// DefaultConfig returns a Config for host:port with the default intervals
func DefaultConfig(host string, port int) Config {
	return Config{
		Host:           host,
		Port:           port,
		SettleInterval: DefaultSettleInterval,
		DialTimeout:    DefaultDialTimeout,
	}
}

// Stats counts what happened to the callbacks the emitter received
type Stats struct {
	Sent       int // written to the connection
	Suppressed int // finished events of a failed test
	Dropped    int // arrived after the connection was closed
	Failed     int // write or encode failure
}

// Emitter implements types.RunListener by writing every callback to the host.
// A TestFinished for an identity that already failed in the current run is
// never written. RunFinished closes the connection for good.
type Emitter struct {
	log    log.Logger
	addr   string
	settle time.Duration

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	failed map[string]struct{} // display names of failed tests in this run
	stats  Stats
}

// New connects to the host. A connection failure is returned as a
// *types.ConnectionError and is not retried.
func New(ctx context.Context, cfg Config) (*Emitter, error) {
	if cfg.Host == "" {
		return nil, errors.New("host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, types.NewConnectionError("dial", addr, err)
	}
	cfg.Log.Debug("Connected to host", "addr", addr)

	return newEmitter(conn, addr, cfg), nil
}

func newEmitter(conn net.Conn, addr string, cfg Config) *Emitter {
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &Emitter{
		log:    logger.New("component", "emitter", "host", addr),
		addr:   addr,
		settle: cfg.SettleInterval,
		conn:   conn,
		failed: make(map[string]struct{}),
	}
}

// RunStarted starts a new run and forgets any failures seen before it
func (e *Emitter) RunStarted(suite types.Description) {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.failed)
	e.send(types.NewRunStarted(suite))
}

func (e *Emitter) TestStarted(desc types.Description) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send(types.NewTestStarted(desc))
}

func (e *Emitter) TestIgnored(desc types.Description) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send(types.NewTestIgnored(desc))
}

// TestFailure remembers the failed identity so its TestFinished is suppressed
func (e *Emitter) TestFailure(failure types.Failure) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed[failure.Description.Key()] = struct{}{}
	e.send(types.NewTestFailure(failure))
}

// TestFinished is dropped when the same identity already failed in this run
func (e *Emitter) TestFinished(desc types.Description) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, failed := e.failed[desc.Key()]; failed {
		e.stats.Suppressed++
		metrics.RecordEventSuppressed()
		e.log.Debug("Suppressing finished event of failed test", "test", desc.DisplayName)
		return
	}
	e.send(types.NewTestFinished(desc))
}

// RunFinished sends the summary and closes the connection. The close is
// attempted even when the send fails.
func (e *Emitter) RunFinished(result types.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send(types.NewRunFinished(result))
	if err := e.closeLocked(); err != nil {
		e.log.Warn("Failed to close connection to host", "err", err)
		metrics.RecordErrorDetails("emitter_close", err)
	}
	clear(e.failed)
}

// Close closes the connection without sending anything. Closing twice is a no-op.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

// Closed reports whether the connection has been closed
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Stats returns a snapshot of the emitter counters
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Addr returns the host address the emitter is connected to
func (e *Emitter) Addr() string {
	return e.addr
}

func (e *Emitter) closeLocked() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.conn.Close(); err != nil {
		return &CloseError{Err: err}
	}
	e.log.Debug("Connection to host closed")
	return nil
}

// send writes one event. Failures are logged and counted, never returned:
// a reporting problem must not interrupt the test run.
func (e *Emitter) send(event types.Event) {
	if e.closed {
		e.stats.Dropped++
		e.log.Warn("Connection to host closed, dropping event", "type", event.Type, "test", event.Subject().DisplayName)
		return
	}

	if err := e.transmit(event); err != nil {
		e.stats.Failed++
		metrics.RecordTransmitError(event.Type, err)
		e.log.Error("Can't send result", "type", event.Type, "test", event.Subject().DisplayName, "err", err)
		return
	}
	e.stats.Sent++
	metrics.RecordEventSent(event.Type)
}

func (e *Emitter) transmit(event types.Event) error {
	data, err := codec.Encode(event)
	if err != nil {
		return &TransmitError{Type: event.Type, Err: err}
	}

	e.log.Debug("Transmitting to host", "type", event.Type, "bytes", len(data))
	if _, err := e.conn.Write(append(data, '\n')); err != nil {
		return &TransmitError{Type: event.Type, Err: err}
	}

	if e.settle > 0 {
		time.Sleep(e.settle)
	}
	return nil
}
