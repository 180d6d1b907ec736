package collector

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testbridge/codec"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

func newTestCollector(t *testing.T, sink RecordSink) *Collector {
	c, err := Listen(Config{
		ListenAddr: "127.0.0.1",
		Log:        testlog.Logger(t, log.LevelDebug),
		Records:    sink,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// sendRaw connects as the target and writes the given lines
func sendRaw(t *testing.T, addr string, lines ...string) {
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	for _, line := range lines {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
}

func encodeAll(t *testing.T, events ...types.Event) []string {
	lines := make([]string, len(events))
	for i, e := range events {
		data, err := codec.Encode(e)
		require.NoError(t, err)
		lines[i] = string(data)
	}
	return lines
}

func collect(t *testing.T, c *Collector) ([]types.Event, error) {
	var events []types.Event
	for event, err := range c.Events(context.Background()) {
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

type memorySink struct {
	mu    sync.Mutex
	lines []string
}

func (s *memorySink) Record(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, string(line))
	return nil
}

func TestCollector_YieldsEventsInOrder(t *testing.T) {
	sink := &memorySink{}
	c := newTestCollector(t, sink)
	assert.Equal(t, StateListening, c.State())

	a := types.NewTestDescription("pkg", "TestA")
	want := []types.Event{
		types.NewRunStarted(types.NewSuiteDescription("suite")),
		types.NewTestStarted(a),
		types.NewTestFinished(a),
		types.NewRunFinished(types.Result{RunCount: 1, RunTime: time.Second}),
	}
	lines := encodeAll(t, want...)
	go sendRaw(t, c.Addr(), lines...)

	got, err := collect(t, c)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, lines, sink.lines)
}

func TestCollector_StopsAfterRunFinished(t *testing.T) {
	c := newTestCollector(t, nil)
	lines := encodeAll(t,
		types.NewRunStarted(types.NewSuiteDescription("suite")),
		types.NewRunFinished(types.Result{}),
		types.NewTestStarted(types.NewTestDescription("pkg", "TestLate")),
	)
	go sendRaw(t, c.Addr(), lines...)

	got, err := collect(t, c)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.TestRunFinished, got[1].Type)
}

func TestCollector_EOFBeforeRunFinished(t *testing.T) {
	c := newTestCollector(t, nil)
	go sendRaw(t, c.Addr(), encodeAll(t, types.NewRunStarted(types.NewSuiteDescription("suite")))...)

	got, err := collect(t, c)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, StateClosed, c.State())
}

func TestCollector_DecodeErrorFailsStream(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind error
	}{
		{name: "not json", line: "hello", kind: codec.ErrMalformedRecord},
		{name: "failure without payload", line: `{"resultType":6}`, kind: codec.ErrMissingField},
		{name: "unknown type", line: `{"resultType":42}`, kind: codec.ErrUnknownResultType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(t, nil)
			lines := append(encodeAll(t, types.NewRunStarted(types.NewSuiteDescription("suite"))), tt.line)
			go sendRaw(t, c.Addr(), lines...)

			got, err := collect(t, c)
			require.Error(t, err)
			assert.True(t, codec.IsDecodeError(err))
			assert.ErrorIs(t, err, tt.kind)
			assert.Len(t, got, 1)
			assert.Equal(t, StateFailed, c.State())
		})
	}
}

func TestCollector_SkipsBlankLines(t *testing.T) {
	c := newTestCollector(t, nil)
	lines := encodeAll(t,
		types.NewRunStarted(types.NewSuiteDescription("suite")),
		types.NewRunFinished(types.Result{}),
	)
	go sendRaw(t, c.Addr(), lines[0], "", "\r", lines[1])

	got, err := collect(t, c)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCollector_SingleShot(t *testing.T) {
	c := newTestCollector(t, nil)
	go sendRaw(t, c.Addr(), encodeAll(t,
		types.NewRunStarted(types.NewSuiteDescription("suite")),
		types.NewRunFinished(types.Result{}),
	)...)

	_, err := collect(t, c)
	require.NoError(t, err)

	_, err = collect(t, c)
	require.ErrorIs(t, err, ErrAlreadyConsumed)
	assert.Equal(t, StateClosed, c.State())
}

func TestCollector_EarlyBreakClosesConnection(t *testing.T) {
	c := newTestCollector(t, nil)
	ready := make(chan net.Conn, 1)
	go func() {
		conn, err := net.Dial("tcp", c.Addr())
		if err != nil {
			close(ready)
			return
		}
		lines := encodeAll(t, types.NewRunStarted(types.NewSuiteDescription("suite")))
		_, _ = conn.Write([]byte(lines[0] + "\n"))
		ready <- conn
	}()

	for _, err := range c.Events(context.Background()) {
		require.NoError(t, err)
		break
	}
	assert.Equal(t, StateClosed, c.State())

	conn, ok := <-ready
	require.True(t, ok)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err, "host side closed the connection")
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "expected EOF, got timeout")
}

func TestCollector_ContextCancelUnblocksAccept(t *testing.T) {
	c := newTestCollector(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		for _, err := range c.Events(ctx) {
			done <- err
			return
		}
		done <- nil
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, types.IsConnectionError(err))
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop after cancellation")
	}
	assert.Equal(t, StateFailed, c.State())
}

func TestListen_Errors(t *testing.T) {
	c := newTestCollector(t, nil)

	_, err := Listen(Config{ListenAddr: "127.0.0.1", Port: c.Port()})
	require.Error(t, err)
	var connErr *types.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "listen", connErr.Op)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Port())), connErr.Addr)

	_, err = Listen(Config{Port: -1})
	require.ErrorContains(t, err, "invalid port")
}

func TestCollector_CloseBeforeConsume(t *testing.T) {
	c := newTestCollector(t, nil)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
}

func TestCollector_Run(t *testing.T) {
	c := newTestCollector(t, nil)
	b := types.NewTestDescription("pkg", "TestB")
	go sendRaw(t, c.Addr(), encodeAll(t,
		types.NewRunStarted(types.NewSuiteDescription("suite")),
		types.NewTestStarted(b),
		types.NewTestFailure(types.Failure{Description: b, Exception: types.Exception{Message: "boom"}}),
		types.NewRunFinished(types.Result{RunCount: 1, FailureCount: 1}),
	)...)

	rec := &types.Recorder{}
	require.NoError(t, c.Run(context.Background(), rec))
	assert.Equal(t, []types.ResultType{
		types.TestRunStarted, types.TestStarted, types.TestFailure, types.TestRunFinished,
	}, rec.Types())
	assert.Equal(t, "boom", rec.Events[2].Failure.Message())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown(9)", State(9).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateConnected.Terminal())
}
