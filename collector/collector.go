// Package collector is the host-side half of the bridge. It accepts exactly
// one connection from the target and turns its records back into events.
package collector

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testbridge/codec"
	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

const (
	DefaultPort       = 8889
	DefaultListenAddr = "0.0.0.0"

	initialBufferSize = 64 * 1024
)

// ErrAlreadyConsumed is yielded when Events is iterated a second time
var ErrAlreadyConsumed = errors.New("event stream already consumed")

// RecordSink receives every raw record before it is decoded
type RecordSink interface {
	Record(line []byte) error
}

// Config holds configuration for creating a new collector.
// Port 0 picks an ephemeral port, see Collector.Port.
type Config struct {
	ListenAddr string
	Port       int
	RunID      string
	Log        log.Logger
	Records    RecordSink
}

// Collector serves one run: one listener, one accepted connection, one
// ordered stream of events. A new run needs a new collector.
type Collector struct {
	log     log.Logger
	runID   string
	records RecordSink
	tracer  trace.Tracer

	ln       net.Listener
	state    atomic.Int32
	consumed atomic.Bool

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Listen binds the listening socket. A bind failure is returned as a
// *types.ConnectionError.
func Listen(cfg Config) (*Collector, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	addr := net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, types.NewConnectionError("listen", addr, err)
	}

	c := &Collector{
		log:     cfg.Log.New("component", "collector", "run_id", cfg.RunID),
		runID:   cfg.RunID,
		records: cfg.Records,
		tracer:  otel.Tracer("collector"),
		ln:      ln,
	}
	c.state.Store(int32(StateListening))
	c.log.Info("Waiting for target to connect", "addr", ln.Addr().String())
	return c, nil
}

// RunID identifies the run this collector serves
func (c *Collector) RunID() string {
	return c.runID
}

// Addr returns the bound listening address
func (c *Collector) Addr() string {
	return c.ln.Addr().String()
}

// Port returns the bound port, useful when listening on port 0
func (c *Collector) Port() int {
	return c.ln.Addr().(*net.TCPAddr).Port
}

// State returns the current connection state
func (c *Collector) State() State {
	return State(c.state.Load())
}

// transition moves to the given state unless a terminal state was reached
func (c *Collector) transition(to State) {
	for {
		cur := State(c.state.Load())
		if cur.Terminal() || cur == to {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(to)) {
			c.log.Debug("Collector state changed", "from", cur, "to", to)
			return
		}
	}
}

// Events accepts the target connection and yields its events in arrival
// order. The sequence ends after RunFinished or at EOF. A decode or read
// failure is yielded once as (zero Event, err) and ends the sequence.
// Cancelling ctx closes the listener and the connection.
func (c *Collector) Events(ctx context.Context) iter.Seq2[types.Event, error] {
	return func(yield func(types.Event, error) bool) {
		if !c.consumed.CompareAndSwap(false, true) {
			yield(types.Event{}, ErrAlreadyConsumed)
			return
		}

		ctx, span := c.tracer.Start(ctx, fmt.Sprintf("collect %s", c.runID),
			trace.WithAttributes(attribute.String("run_id", c.runID)))
		defer span.End()

		stop := context.AfterFunc(ctx, func() {
			c.log.Warn("Collector interrupted", "cause", context.Cause(ctx))
			_ = c.Close()
		})
		defer stop()

		fail := func(err error) {
			c.transition(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(types.Event{}, err)
		}

		conn, err := c.accept()
		if err != nil {
			fail(c.interrupted(ctx, err))
			return
		}
		defer c.Close()

		received := 0
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, initialBufferSize), codec.MaxRecordSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if c.records != nil {
				if err := c.records.Record(line); err != nil {
					c.log.Warn("Failed to record raw event", "err", err)
				}
			}

			event, err := codec.Decode(line)
			if err != nil {
				metrics.RecordDecodeError(err)
				c.log.Error("Failed to decode record", "err", err)
				fail(err)
				return
			}
			metrics.RecordEventReceived(event.Type)
			received++
			c.transition(StateStreaming)
			c.log.Debug("Received event", "event", event)

			if !yield(event, nil) {
				c.transition(StateClosed)
				return
			}
			if event.Type == types.TestRunFinished {
				c.log.Info("Run finished", "events", received)
				c.transition(StateClosed)
				return
			}
		}

		if err := scanner.Err(); err != nil {
			fail(c.interrupted(ctx, fmt.Errorf("read record: %w", err)))
			return
		}
		c.log.Warn("Target closed the connection before the run finished", "events", received)
		c.transition(StateClosed)
	}
}

// Run drains Events into l on the calling goroutine and returns the error
// that ended the stream, if any.
func (c *Collector) Run(ctx context.Context, l types.RunListener) error {
	for event, err := range c.Events(ctx) {
		if err != nil {
			return err
		}
		if err := types.Dispatch(event, l); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the listener and the connection. It is safe to call at any
// time and more than once.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if err := c.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if !c.consumed.Load() {
		c.transition(StateClosed)
	}
	return errors.Join(errs...)
}

// accept waits for the single target connection and stops listening
func (c *Collector) accept() (net.Conn, error) {
	conn, err := c.ln.Accept()
	if err != nil {
		return nil, types.NewConnectionError("accept", c.Addr(), err)
	}
	// one connection per run
	_ = c.ln.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return nil, types.NewConnectionError("accept", c.Addr(), net.ErrClosed)
	}
	c.conn = conn
	c.transition(StateConnected)
	c.log.Info("Target connected", "remote", conn.RemoteAddr().String())
	return conn, nil
}

func (c *Collector) interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("collector interrupted: %w", errors.Join(context.Cause(ctx), err))
	}
	return err
}
