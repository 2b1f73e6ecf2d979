// Package rpc implements the WebSocket transport for the agent backend:
// correlated request/response pairs multiplexed with named server pushes
// over a single long-lived connection.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// State describes the transport connection lifecycle.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

var (
	// ErrNotConnected is returned by Request when the socket is not open.
	// Requests fail fast instead of queueing.
	ErrNotConnected = errors.New("rpc: not connected")
	// ErrConnectionClosed is returned for requests that were in flight when
	// the socket closed.
	ErrConnectionClosed = errors.New("rpc: connection closed")
)

// Handler receives the params payload of a server push.
type Handler func(params json.RawMessage)

// Config configures a Client. All fields are optional.
type Config struct {
	Logger *slog.Logger
	Dialer *websocket.Dialer
	// OnConnect fires after a dial succeeds. A reconnect means a new
	// server-assigned client id, so session layers re-bootstrap here.
	OnConnect func()
	// OnDisconnect fires when the read loop exits.
	OnDisconnect func(err error)
}

// Client owns the socket. All other components route through it; it is safe
// for concurrent use.
type Client struct {
	logger       *slog.Logger
	dialer       *websocket.Dialer
	onConnect    func()
	onDisconnect func(err error)

	nextID atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	pending map[int64]chan outcome
	gen     uint64 // increments per connection; stale read loops detect replacement

	handlerMu sync.RWMutex
	handlers  map[string][]Handler
}

type outcome struct {
	result json.RawMessage
	err    error
}

// NewClient creates a disconnected client. Call Connect to establish the
// socket, typically under a Watchdog.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		logger:       logger,
		dialer:       dialer,
		onConnect:    cfg.OnConnect,
		onDisconnect: cfg.OnDisconnect,
		pending:      map[int64]chan outcome{},
		handlers:     map[string][]Handler{},
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool { return c.State() == StateOpen }

// On registers a handler for a named server push. Handlers run on the read
// goroutine in registration order; they must not block.
func (c *Client) On(event string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Connect dials the backend. It is a no-op while a connection is open or a
// dial is already in progress, so a fixed-interval watchdog can call it
// unconditionally.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.logger.Debug("rpc connected", "url", url)
	// The read loop must be running before the connect callback so that
	// requests issued from inside the callback can see their responses.
	go c.readLoop(conn, gen)
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// Request sends a correlated request and waits for the matching response.
// It fails fast with ErrNotConnected when the socket is not open. There is
// no client-enforced timeout beyond ctx; a hung request pends until the
// context is cancelled or the connection drops.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan outcome, 1)

	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	c.pending[id] = ch
	err := conn.WriteJSON(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.mu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case out := <-ch:
		return out.result, out.err
	}
}

// Close releases the socket and fails all in-flight requests.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	pending := c.pending
	c.pending = map[int64]chan outcome{}
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: ErrConnectionClosed}
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.teardown(conn, gen, err)
			return
		}
		switch {
		case env.Method != "":
			c.dispatch(env.Method, env.Params)
		case env.ID != nil:
			c.settle(env)
		}
	}
}

func (c *Client) dispatch(event string, params json.RawMessage) {
	c.handlerMu.RLock()
	hs := c.handlers[event]
	c.handlerMu.RUnlock()
	if len(hs) == 0 {
		c.logger.Debug("rpc push with no handler", "event", event)
		return
	}
	for _, h := range hs {
		h(params)
	}
}

// settle delivers a response to its pending request exactly once. Responses
// for unknown correlation ids are ignored.
func (c *Client) settle(env envelope) {
	id, err := env.ID.Int64()
	if err != nil {
		c.logger.Debug("rpc response with non-numeric id", "id", env.ID.String())
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("rpc response for unknown id", "id", id)
		return
	}
	if env.Error != nil {
		ch <- outcome{err: env.Error}
		return
	}
	ch <- outcome{result: env.Result}
}

// teardown transitions to closed after a read failure, unless a newer
// connection has already replaced this one.
func (c *Client) teardown(conn *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateClosed
	pending := c.pending
	c.pending = map[int64]chan outcome{}
	c.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		ch <- outcome{err: ErrConnectionClosed}
	}
	c.logger.Debug("rpc disconnected", "error", err)
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}
