package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/4xmen/cineadmin/internal/observability"
)

type Handler func(data json.RawMessage)

type AckFunc func(data json.RawMessage)

// Options is the reconnection policy of a connection.
type Options struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Timeout           time.Duration
}

func DefaultOptions() Options {
	return Options{ReconnectAttempts: 5, ReconnectDelay: time.Second, Timeout: 10 * time.Second}
}

type listener struct {
	id    int
	event string
	fn    Handler
}

// Conn is a self-healing client connection to the chat socket. It dials in
// the background, redials after drops, and reports everything that happens
// to it as events.
type Conn struct {
	url   string
	token string
	opts  Options
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	socket    *websocket.Conn
	send      chan []byte
	connected bool
	closed    bool
	gaveUp    bool
	listeners []listener
	nextID    int
	pending   map[string]AckFunc
}

// Dial starts connecting to url with token as the handshake credential and
// returns immediately.
func Dial(url, token string, opts Options) *Conn {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		url:     url,
		token:   token,
		opts:    opts,
		log:     observability.WithFields("component", "ws.conn", "url", url),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]AckFunc),
	}
	go c.run()
	return c
}

// On subscribes fn to event and returns the function that unsubscribes it.
// Handlers run one at a time on the connection's reader goroutine.
func (c *Conn) On(event string, fn Handler) (off func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, event: event, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Listeners reports how many handlers are subscribed.
func (c *Conn) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Alive is false once the connection was closed or ran out of reconnection
// attempts.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.gaveUp
}

func (c *Conn) Token() string {
	return c.token
}

// Emit sends event with payload. With a non-nil ack the server's reply is
// delivered to it; replies still pending when the socket drops are never
// delivered.
func (c *Conn) Emit(event string, payload any, ack AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	frame := Frame{Event: event, Data: data}
	if ack != nil {
		frame.Ack = uuid.NewString()
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.closed {
		return ErrNotConnected
	}
	if ack != nil {
		c.pending[frame.Ack] = ack
	}
	select {
	case c.send <- raw:
		return nil
	default:
		delete(c.pending, frame.Ack)
		return ErrSendBuffer
	}
}

// Close tears the connection down for good. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	socket := c.socket
	c.pending = make(map[string]AckFunc)
	c.mu.Unlock()

	c.cancel()
	if socket != nil {
		socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		socket.Close()
	}
}

func (c *Conn) run() {
	failures := 0
	for {
		if c.ctx.Err() != nil {
			return
		}

		socket, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++
			c.log.Warn("connect failed", "attempt", failures, "error", err)
			c.dispatch(EventConnectError, errorData(err))
			if failures > c.opts.ReconnectAttempts {
				c.mu.Lock()
				c.gaveUp = true
				c.mu.Unlock()
				c.log.Error("giving up reconnecting", "attempts", failures)
				return
			}
			if !c.sleep(c.opts.ReconnectDelay) {
				return
			}
			continue
		}

		failures = 0
		if !c.attach(socket) {
			socket.Close()
			return
		}
		c.log.Info("connected")
		c.dispatch(EventConnect, nil)

		c.serve(socket)

		c.detach()
		if c.ctx.Err() != nil {
			return
		}
		c.log.Info("disconnected")
		c.dispatch(EventDisconnect, nil)
		if !c.sleep(c.opts.ReconnectDelay) {
			return
		}
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.Timeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
	defer cancel()

	socket, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("handshake rejected: unauthorized")
		}
		return nil, err
	}
	return socket, nil
}

func (c *Conn) attach(socket *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.socket = socket
	c.send = make(chan []byte, 256)
	c.connected = true
	return true
}

func (c *Conn) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.socket = nil
	c.connected = false
	c.pending = make(map[string]AckFunc)
}

func (c *Conn) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var fns []Handler
	for _, l := range c.listeners {
		if l.event == event {
			fns = append(fns, l.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

func (c *Conn) resolve(id string, data json.RawMessage) {
	c.mu.Lock()
	ack, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ack(data)
	}
}

// serve pumps one socket until it fails or the connection is closed.
func (c *Conn) serve(socket *websocket.Conn) {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()

	quit := make(chan struct{})
	go c.writePump(socket, send, quit)
	c.readPump(socket)
	close(quit)
	socket.Close()
}

func (c *Conn) readPump(socket *websocket.Conn) {
	socket.SetReadLimit(maxFrameSize)
	socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.ctx.Err() == nil {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			c.log.Debug("ignoring malformed frame", "bytes", len(data))
			continue
		}

		if frame.Event == EventAck {
			c.resolve(frame.Ack, frame.Data)
			continue
		}
		c.dispatch(frame.Event, frame.Data)
	}
}

func (c *Conn) writePump(socket *websocket.Conn, send <-chan []byte, quit <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return

		case message := <-send:
			socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.TextMessage, message); err != nil {
				socket.Close()
				return
			}

		case <-ticker.C:
			socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				socket.Close()
				return
			}
		}
	}
}
