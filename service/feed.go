package service

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"github.com/ethereum-optimism/infra/op-testbridge/codec"
	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

const (
	clientBufferSize = 64
	writeWait        = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

var _ types.RunListener = (*Feed)(nil)

// Feed rebroadcasts every collected event to websocket clients, one record
// per text message in the wire encoding. Clients that can't keep up are
// disconnected.
type Feed struct {
	log      log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool
}

func NewFeed(logger log.Logger) *Feed {
	if logger == nil {
		logger = log.Root()
	}
	return &Feed{
		log: logger.New("component", "feed"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := f.addClient(conn)
	if c == nil {
		_ = conn.Close()
		return
	}
	f.log.Debug("Feed client connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			f.removeClient(c)
			f.log.Debug("Feed client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *Feed) addClient(conn *websocket.Conn) *client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	c := newClient(conn)
	f.clients[c] = true
	return c
}

func (f *Feed) removeClient(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close disconnects all clients and rejects new ones
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *Feed) broadcast(e types.Event) {
	data, err := codec.Encode(e)
	if err != nil {
		f.log.Error("Failed to encode feed event", "type", e.Type, "err", err)
		metrics.RecordErrorDetails("feed encode", err)
		return
	}

	// Sends happen under the read lock so removeClient cannot close a
	// channel mid-send. Slow clients are dropped once the lock is released.
	var slow []*client
	f.mu.RLock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	f.mu.RUnlock()

	for _, c := range slow {
		f.log.Warn("Feed client too slow, disconnecting")
		f.removeClient(c)
	}
}

func (f *Feed) RunStarted(suite types.Description) { f.broadcast(types.NewRunStarted(suite)) }

func (f *Feed) RunFinished(result types.Result) { f.broadcast(types.NewRunFinished(result)) }

func (f *Feed) TestStarted(desc types.Description) { f.broadcast(types.NewTestStarted(desc)) }

func (f *Feed) TestFinished(desc types.Description) { f.broadcast(types.NewTestFinished(desc)) }

func (f *Feed) TestFailure(failure types.Failure) { f.broadcast(types.NewTestFailure(failure)) }

func (f *Feed) TestIgnored(desc types.Description) { f.broadcast(types.NewTestIgnored(desc)) }
