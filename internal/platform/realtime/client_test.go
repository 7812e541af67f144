package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
)

// ---------------------------------------------------------------------------
// Helper
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer accepts event channel connections and records inbound frames.
type testServer struct {
	*httptest.Server
	frames chan Frame
	conns  chan *gorillawebsocket.Conn

	mu      sync.Mutex
	headers []http.Header
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		frames: make(chan Frame, 64),
		conns:  make(chan *gorillawebsocket.Conn, 8),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.headers = append(ts.headers, r.Header.Clone())
		ts.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ts.frames <- f
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func (ts *testServer) nextConn(t *testing.T) *gorillawebsocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func (ts *testServer) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-ts.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func (ts *testServer) noFrame(t *testing.T) {
	t.Helper()
	select {
	case f := <-ts.frames:
		t.Fatalf("unexpected frame %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestClient_JoinAndEmit(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.wsURL(), WithToken("tok"))
	startClient(t, c)
	ts.nextConn(t)
	waitFor(t, c.Connected)

	if err := c.Join("doc-1", "2025-03-10"); err != nil {
		t.Fatalf("join: %v", err)
	}
	f := ts.nextFrame(t)
	if f.Event != EventJoinRoom {
		t.Fatalf("expected join_room, got %q", f.Event)
	}
	var room map[string]string
	if err := json.Unmarshal(f.Data, &room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if room["doctorId"] != "doc-1" || room["date"] != "2025-03-10" {
		t.Errorf("unexpected room payload %v", room)
	}

	if err := c.Emit("lock_time_slot", map[string]string{"timeSlotId": "09:00"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if f := ts.nextFrame(t); f.Event != "lock_time_slot" || !strings.Contains(string(f.Data), "09:00") {
		t.Errorf("unexpected frame %s %s", f.Event, f.Data)
	}

	ts.mu.Lock()
	h := ts.headers[0]
	ts.mu.Unlock()
	if h.Get("Authorization") != "Bearer tok" || h.Get("X-Client-ID") != c.ID() {
		t.Errorf("unexpected handshake headers %v", h)
	}
}

func TestClient_InboundEventsReachHandlers(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.wsURL())

	got := make(chan string, 4)
	off := c.On("time_slot_locked", func(data json.RawMessage) { got <- string(data) })
	c.On("time_slot_unlocked", func(json.RawMessage) { got <- "unlocked" })

	startClient(t, c)
	server := ts.nextConn(t)

	server.WriteJSON(map[string]any{"event": "time_slot_locked", "data": map[string]string{"startTime": "09:00"}})
	select {
	case s := <-got:
		if !strings.Contains(s, "09:00") {
			t.Errorf("unexpected payload %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	off()
	server.WriteMessage(gorillawebsocket.TextMessage, []byte("not json"))
	server.WriteJSON(map[string]any{"event": "time_slot_locked", "data": map[string]string{}})
	server.WriteJSON(map[string]any{"event": "time_slot_unlocked", "data": map[string]string{}})
	select {
	case s := <-got:
		if s != "unlocked" {
			t.Errorf("expected removed handler to stay silent, got %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestClient_EmitDroppedWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", WithReconnect(0))
	if c.Connected() {
		t.Fatal("expected a new client to be disconnected")
	}
	if err := c.Emit("lock_time_slot", map[string]string{}); err != nil {
		t.Errorf("expected a silent drop, got %v", err)
	}
	if err := c.Join("doc-1", "2025-03-10"); err != nil {
		t.Errorf("expected join to be deferred, got %v", err)
	}
}

func TestClient_RunWithoutReconnectReturnsDialError(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", WithReconnect(0))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Run(ctx); err == nil || ctx.Err() != nil {
		t.Errorf("expected a dial error, got %v", err)
	}
}

func TestClient_ReconnectRejoinsRooms(t *testing.T) {
	ts := newTestServer(t)
	var mu sync.Mutex
	var statuses []bool
	c := New(ts.wsURL(), WithReconnect(10*time.Millisecond), WithStatusHook(func(up bool) {
		mu.Lock()
		statuses = append(statuses, up)
		mu.Unlock()
	}))

	// Joined before the first connection: sent on connect.
	_ = c.Join("doc-1", "2025-03-10")
	startClient(t, c)
	first := ts.nextConn(t)
	if f := ts.nextFrame(t); f.Event != EventJoinRoom {
		t.Fatalf("expected join on connect, got %q", f.Event)
	}

	first.Close()
	ts.nextConn(t)
	if f := ts.nextFrame(t); f.Event != EventJoinRoom || !strings.Contains(string(f.Data), "doc-1") {
		t.Fatalf("expected rejoin after reconnect, got %s %s", f.Event, f.Data)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 3
	})

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) < 3 || statuses[0] != true || statuses[1] != false {
		t.Errorf("expected up, down, up; got %v", statuses)
	}
}

func TestClient_LeaveForgetsRoom(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.wsURL(), WithReconnect(10*time.Millisecond))
	startClient(t, c)
	first := ts.nextConn(t)
	waitFor(t, c.Connected)

	_ = c.Join("doc-1", "2025-03-10")
	ts.nextFrame(t)
	_ = c.Leave("doc-1", "2025-03-10")
	if f := ts.nextFrame(t); f.Event != EventLeaveRoom {
		t.Fatalf("expected leave_room, got %q", f.Event)
	}

	first.Close()
	ts.nextConn(t)
	ts.noFrame(t)
}

func TestClient_CloseStopsRun(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.wsURL(), WithReconnect(10*time.Millisecond))
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	ts.nextConn(t)
	waitFor(t, c.Connected)

	c.Close()
	select {
	case err := <-errc:
		if err != ErrClosed {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
