// Package realtime is the client side of the clinic event channel: a
// WebSocket carrying {"event", "data"} frames, scoped by doctor/date rooms.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	EventJoinRoom  = "join_room"
	EventLeaveRoom = "leave_room"

	writeWait = 10 * time.Second
)

var ErrClosed = errors.New("realtime: client closed")

// Frame is the wire format in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomPayload struct {
	DoctorID string `json:"doctorId"`
	Date     string `json:"date"`
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithReconnect sets the delay before redialing after the connection drops.
// Zero disables reconnecting.
func WithReconnect(d time.Duration) Option { return func(c *Client) { c.reconnect = d } }

// WithToken sends the access token as a bearer Authorization header.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.header.Set("Authorization", "Bearer "+token)
		}
	}
}

func WithDialer(d *gorillawebsocket.Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithStatusHook is called whenever the connection comes up or goes down.
func WithStatusHook(f func(connected bool)) Option { return func(c *Client) { c.onStatus = f } }

type handler struct {
	id uint64
	fn func(json.RawMessage)
}

// Client keeps one connection to the event channel. Handlers run on the read
// goroutine; they must not block.
type Client struct {
	url       string
	id        string
	header    http.Header
	dialer    *gorillawebsocket.Dialer
	reconnect time.Duration
	logger    zerolog.Logger
	onStatus  func(bool)

	connected atomic.Bool
	writeMu   sync.Mutex

	mu       sync.Mutex
	conn     *gorillawebsocket.Conn
	rooms    map[roomPayload]struct{}
	handlers map[string][]handler
	nextID   uint64
	closed   bool
}

// New creates a disconnected client for url. Call Run to connect.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:       url,
		id:        uuid.New().String(),
		header:    http.Header{},
		dialer:    gorillawebsocket.DefaultDialer,
		reconnect: 3 * time.Second,
		logger:    zerolog.Nop(),
		rooms:     make(map[roomPayload]struct{}),
		handlers:  make(map[string][]handler),
	}
	for _, o := range opts {
		o(c)
	}
	c.header.Set("X-Client-ID", c.id)
	c.logger = c.logger.With().Str("component", "realtime").Str("client_id", c.id).Logger()
	return c
}

// ID identifies this connection to the server.
func (c *Client) ID() string { return c.id }

func (c *Client) Connected() bool { return c.connected.Load() }

// Run dials and serves the connection until ctx is done or Close is called,
// redialing after each drop. Rooms joined earlier are joined again on every
// new connection.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isClosed() {
			return ErrClosed
		}
		if c.reconnect <= 0 {
			return err
		}
		c.logger.Warn().Err(err).Dur("delay", c.reconnect).Msg("event channel disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	rooms := make([]roomPayload, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	c.connected.Store(true)
	c.logger.Info().Str("url", c.url).Msg("event channel connected")
	for _, r := range rooms {
		if err := c.write(EventJoinRoom, r); err != nil {
			c.logger.Warn().Err(err).Str("doctor_id", r.DoctorID).Str("date", r.Date).Msg("rejoin room failed")
		}
	}
	c.status(true)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = c.readPump(conn)
	stop()

	c.connected.Store(false)
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
	c.status(false)
	return err
}

func (c *Client) readPump(conn *gorillawebsocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f Frame
		if err := json.Unmarshal(message, &f); err != nil || f.Event == "" {
			c.logger.Debug().Int("bytes", len(message)).Msg("ignoring malformed frame")
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	c.mu.Lock()
	hs := append([]handler(nil), c.handlers[f.Event]...)
	c.mu.Unlock()
	for _, h := range hs {
		h.fn(f.Data)
	}
}

func (c *Client) status(up bool) {
	if c.onStatus != nil {
		c.onStatus(up)
	}
}

// On registers h for event. The returned func removes it.
func (c *Client) On(event string, h func(json.RawMessage)) (off func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], handler{id: id, fn: h})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		hs := c.handlers[event]
		for i, x := range hs {
			if x.id == id {
				c.handlers[event] = append(hs[:i:i], hs[i+1:]...)
				break
			}
		}
		if len(c.handlers[event]) == 0 {
			delete(c.handlers, event)
		}
	}
}

// Join subscribes to lock traffic for one doctor and date. While
// disconnected the room is remembered and joined on connect.
func (c *Client) Join(doctorID, date string) error {
	r := roomPayload{DoctorID: doctorID, Date: date}
	c.mu.Lock()
	c.rooms[r] = struct{}{}
	c.mu.Unlock()
	if !c.Connected() {
		return nil
	}
	return c.write(EventJoinRoom, r)
}

func (c *Client) Leave(doctorID, date string) error {
	r := roomPayload{DoctorID: doctorID, Date: date}
	c.mu.Lock()
	delete(c.rooms, r)
	c.mu.Unlock()
	if !c.Connected() {
		return nil
	}
	return c.write(EventLeaveRoom, r)
}

// Emit sends event with payload. Nothing is queued: while disconnected the
// event is dropped.
func (c *Client) Emit(event string, payload any) error {
	if !c.Connected() {
		c.logger.Debug().Str("event", event).Msg("not connected, event dropped")
		return nil
	}
	return c.write(event, payload)
}

func (c *Client) write(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Close drops the connection and stops Run from redialing.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(gorillawebsocket.CloseMessage,
		gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
