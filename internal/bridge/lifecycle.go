package bridge

import (
	"sync"

	"github.com/4xmen/cineadmin/internal/chat"
	"github.com/4xmen/cineadmin/internal/ws"
)

// Lifecycle keeps the socket, the bridge and the store in step with the
// admin's credential.
type Lifecycle struct {
	manager *ws.Manager
	bridge  *Bridge
	store   *chat.Store

	mu    sync.Mutex
	token string
	conn  *ws.Conn
}

func NewLifecycle(manager *ws.Manager, bridge *Bridge, store *chat.Store) *Lifecycle {
	return &Lifecycle{manager: manager, bridge: bridge, store: store}
}

// SetCredential tears down the current connection and, for a non-empty
// token, opens and attaches a new one. Setting the same token again while
// its connection is still alive changes nothing.
func (l *Lifecycle) SetCredential(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if token != "" && token == l.token && l.conn != nil && l.conn.Alive() {
		return
	}

	l.bridge.Detach()
	l.manager.Release()
	l.conn = nil
	l.token = token
	l.store.SetConnected(false)

	if token == "" {
		return
	}
	l.conn = l.manager.Acquire(token)
	l.bridge.Attach(l.conn)
}

// Emit sends on the current connection.
func (l *Lifecycle) Emit(event string, payload any, ack ws.AckFunc) error {
	conn := l.current()
	if conn == nil {
		return ws.ErrNotConnected
	}
	return conn.Emit(event, payload, ack)
}

func (l *Lifecycle) Connected() bool {
	conn := l.current()
	return conn != nil && conn.Connected()
}

func (l *Lifecycle) current() *ws.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}
