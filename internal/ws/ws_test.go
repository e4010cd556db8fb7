package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const testToken = "good-token"

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newTestServer serves /ws, rejecting handshakes without the test token, and
// hands every accepted socket to serve.
func newTestServer(t *testing.T, serve func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+testToken {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		serve(conn)
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

// ackServer acknowledges every frame that asks for it and echoes "ping"
// events back as "pong".
func ackServer(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in Frame
		if json.Unmarshal(data, &in) != nil {
			continue
		}
		if in.Ack != "" {
			reply, _ := json.Marshal(Frame{Event: EventAck, Ack: in.Ack, Data: json.RawMessage(`{"success":true}`)})
			conn.WriteMessage(websocket.TextMessage, reply)
		}
		if in.Event == "ping" {
			reply, _ := json.Marshal(Frame{Event: "pong", Data: in.Data})
			conn.WriteMessage(websocket.TextMessage, reply)
		}
	}
}

func fastOptions() Options {
	return Options{ReconnectAttempts: 2, ReconnectDelay: 10 * time.Millisecond, Timeout: time.Second}
}

func waitFor(t *testing.T, ch <-chan json.RawMessage, what string) json.RawMessage {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func waitConnected(t *testing.T, conn *Conn) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !conn.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func eventChan(conn *Conn, event string) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 16)
	conn.On(event, func(data json.RawMessage) { ch <- data })
	return ch
}

func TestConnConnectsAndResolvesAcks(t *testing.T) {
	_, url := newTestServer(t, ackServer)

	conn := Dial(url, testToken, fastOptions())
	defer conn.Close()
	waitConnected(t, conn)

	acks := make(chan json.RawMessage, 1)
	err := conn.Emit(EventSendMessage, map[string]string{"conversationId": "c1", "content": "hi"}, func(data json.RawMessage) {
		acks <- data
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	var ack struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(waitFor(t, acks, "ack"), &ack); err != nil {
		t.Fatalf("bad ack payload: %v", err)
	}
	if !ack.Success {
		t.Error("expected success ack")
	}
}

func TestConnDispatchesServerEvents(t *testing.T) {
	_, url := newTestServer(t, ackServer)

	conn := Dial(url, testToken, fastOptions())
	defer conn.Close()
	pongs := eventChan(conn, "pong")
	waitConnected(t, conn)

	if err := conn.Emit("ping", map[string]int{"n": 7}, nil); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	got := waitFor(t, pongs, "pong")
	if string(got) != `{"n":7}` {
		t.Errorf("pong data = %s", got)
	}
}

func TestConnEmitWhileDisconnected(t *testing.T) {
	server, url := newTestServer(t, ackServer)
	server.Close()

	conn := Dial(url, testToken, fastOptions())
	defer conn.Close()

	if err := conn.Emit(EventSendMessage, map[string]string{}, nil); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnGivesUpAfterAttemptLimit(t *testing.T) {
	_, url := newTestServer(t, ackServer)

	var failures atomic.Int32
	opts := fastOptions()
	conn := Dial(url, "wrong-token", opts)
	defer conn.Close()
	conn.On(EventConnectError, func(json.RawMessage) { failures.Add(1) })

	deadline := time.Now().Add(3 * time.Second)
	for conn.Alive() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if conn.Alive() {
		t.Fatal("expected connection to give up")
	}
	// The listener may miss the first failure, which can happen before On.
	if n := failures.Load(); n < int32(opts.ReconnectAttempts) || n > int32(opts.ReconnectAttempts+1) {
		t.Errorf("connect_error count = %d", n)
	}
	if conn.Connected() {
		t.Error("expected connection to stay disconnected")
	}
}

func TestConnReconnectsAfterDrop(t *testing.T) {
	var accepted atomic.Int32
	_, url := newTestServer(t, func(conn *websocket.Conn) {
		if accepted.Add(1) == 1 {
			conn.Close()
			return
		}
		ackServer(conn)
	})

	conn := Dial(url, testToken, fastOptions())
	defer conn.Close()

	var mu sync.Mutex
	var events []string
	record := func(name string) Handler {
		return func(json.RawMessage) {
			mu.Lock()
			events = append(events, name)
			mu.Unlock()
		}
	}
	conn.On(EventConnect, record(EventConnect))
	conn.On(EventDisconnect, record(EventDisconnect))

	reconnected := func() bool {
		mu.Lock()
		defer mu.Unlock()
		for i, e := range events {
			if e == EventDisconnect && i+1 < len(events) && events[i+1] == EventConnect {
				return true
			}
		}
		return false
	}

	deadline := time.Now().Add(3 * time.Second)
	for !reconnected() {
		if time.Now().After(deadline) {
			mu.Lock()
			t.Fatalf("timed out waiting for reconnect, events %v", events)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if accepted.Load() != 2 {
		t.Errorf("expected 2 accepted sockets, got %d", accepted.Load())
	}
	if !conn.Connected() {
		t.Error("expected connection to be back up")
	}
}

func TestConnOffRemovesListener(t *testing.T) {
	server, url := newTestServer(t, ackServer)
	server.Close()

	conn := Dial(url, testToken, fastOptions())
	defer conn.Close()

	off := conn.On(EventTyping, func(json.RawMessage) {})
	conn.On(EventNewMessage, func(json.RawMessage) {})
	if conn.Listeners() != 2 {
		t.Fatalf("expected 2 listeners, got %d", conn.Listeners())
	}
	off()
	off()
	if conn.Listeners() != 1 {
		t.Errorf("expected 1 listener, got %d", conn.Listeners())
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	_, url := newTestServer(t, ackServer)

	conn := Dial(url, testToken, fastOptions())
	waitConnected(t, conn)

	conn.Close()
	conn.Close()

	if conn.Connected() || conn.Alive() {
		t.Error("expected closed connection to be dead")
	}
	if err := conn.Emit("ping", nil, nil); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected after Close, got %v", err)
	}
}

func TestManagerAcquire(t *testing.T) {
	_, url := newTestServer(t, ackServer)
	m := NewManager(url, fastOptions())
	defer m.Release()

	first := m.Acquire(testToken)
	if first == nil {
		t.Fatal("Acquire returned nil")
	}
	if again := m.Acquire(testToken); again != first {
		t.Error("expected same connection for same token")
	}

	first.Close()
	replaced := m.Acquire(testToken)
	if replaced == first {
		t.Error("expected a new connection after the old one died")
	}
	if m.Current() != replaced {
		t.Error("Current should return the latest connection")
	}

	if got := m.Acquire(""); got != nil {
		t.Error("empty token should release and return nil")
	}
	if m.Current() != nil {
		t.Error("expected no connection after empty Acquire")
	}
	if replaced.Alive() {
		t.Error("released connection should be closed")
	}

	m.Release()
	m.Release()
}
