package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/animus-ai/animus-go/internal/clock"
)

// testServer is a minimal in-process backend speaking the wire envelopes.
type testServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 4)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func connect(t *testing.T, ts *testServer) (*Client, *websocket.Conn) {
	t.Helper()
	c := NewClient(Config{})
	if err := c.Connect(context.Background(), ts.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, ts.accept(t)
}

func readRequest(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var req map[string]any
	if err := conn.ReadJSON(&req); err != nil {
		t.Fatalf("server read: %v", err)
	}
	return req
}

func TestClient_RequestResponse(t *testing.T) {
	ts := newTestServer(t)
	c, conn := connect(t, ts)

	go func() {
		req := readRequest(t, conn)
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]any{"clientId": "abc"},
		})
	}()

	result, err := c.Request(context.Background(), "initialize", nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	var payload struct {
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if payload.ClientID != "abc" {
		t.Errorf("clientId = %q, want %q", payload.ClientID, "abc")
	}
}

func TestClient_RequestError(t *testing.T) {
	ts := newTestServer(t)
	c, conn := connect(t, ts)

	go func() {
		req := readRequest(t, conn)
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"error": map[string]any{
				"code":    -32001,
				"message": "room is owned by another client",
				"data":    map[string]any{"ownerClientId": "other-client"},
			},
		})
	}()

	_, err := c.Request(context.Background(), "turn/start", nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Request() error = %v, want *Error", err)
	}
	if rpcErr.Code != -32001 {
		t.Errorf("Code = %d, want -32001", rpcErr.Code)
	}
	if got := rpcErr.DataField("ownerClientId"); got != "other-client" {
		t.Errorf("DataField(ownerClientId) = %q, want %q", got, "other-client")
	}
}

func TestClient_RequestFailsFastWhenClosed(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Request(context.Background(), "thread/list", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Request() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_IgnoresUnknownResponseID(t *testing.T) {
	ts := newTestServer(t)
	c, conn := connect(t, ts)

	go func() {
		req := readRequest(t, conn)
		// A stray response first; the client must not treat it as fatal.
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 99999, "result": "stale"})
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": "fresh"})
	}()

	result, err := c.Request(context.Background(), "thread/list", nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	var got string
	if err := json.Unmarshal(result, &got); err != nil || got != "fresh" {
		t.Errorf("result = %s, want %q", result, "fresh")
	}
}

func TestClient_DispatchesPushes(t *testing.T) {
	ts := newTestServer(t)
	c, conn := connect(t, ts)

	received := make(chan string, 1)
	c.On("room/owner", func(params json.RawMessage) {
		var p struct {
			OwnerClientID string `json:"ownerClientId"`
		}
		_ = json.Unmarshal(params, &p)
		received <- p.OwnerClientID
	})

	if err := conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  "room/owner",
		"params":  map[string]any{"ownerClientId": "client-1", "ttlMs": 30000},
	}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case owner := <-received:
		if owner != "client-1" {
			t.Errorf("owner = %q, want %q", owner, "client-1")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("push not dispatched")
	}
}

func TestClient_RequestFromConnectCallback(t *testing.T) {
	ts := newTestServer(t)

	done := make(chan error, 1)
	var c *Client
	c = NewClient(Config{
		OnConnect: func() {
			_, err := c.Request(context.Background(), "initialize", nil)
			done <- err
		},
	})

	go func() {
		conn := ts.accept(t)
		req := readRequest(t, conn)
		_ = conn.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]any{"clientId": "abc"},
		})
	}()

	if err := c.Connect(context.Background(), ts.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Request() from OnConnect error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request issued from OnConnect never settled")
	}
}

func TestClient_CloseFailsInflightRequests(t *testing.T) {
	ts := newTestServer(t)
	c, conn := connect(t, ts)
	defer conn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "turn/start", nil)
		errCh <- err
	}()
	// Let the request reach the wire before closing.
	readRequest(t, conn)
	c.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("Request() error = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request never settled")
	}
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

func waitForArmed(t *testing.T, clk *clock.Fake) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if clk.Armed() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("watchdog ticker never armed")
}

func TestWatchdog_ReconnectsAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{})
	defer c.Close()

	clk := clock.NewFake()
	wd := NewWatchdog(c, ts.url(), clk, nil)
	wd.Start(context.Background())
	defer wd.Stop()

	first := ts.accept(t)
	waitForState(t, c, StateOpen)
	waitForArmed(t, clk)

	// Server drops the socket; the client observes closed.
	first.Close()
	waitForState(t, c, StateClosed)

	// Next watchdog tick re-dials.
	clk.Advance(WatchdogInterval)
	ts.accept(t)
	waitForState(t, c, StateOpen)
}

func TestWatchdog_StopCancelsPolling(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{})
	defer c.Close()

	clk := clock.NewFake()
	wd := NewWatchdog(c, ts.url(), clk, nil)
	wd.Start(context.Background())
	ts.accept(t)
	waitForState(t, c, StateOpen)

	wd.Stop()
	if got := clk.Armed(); got != 0 {
		t.Errorf("armed timers after Stop() = %d, want 0", got)
	}
}
