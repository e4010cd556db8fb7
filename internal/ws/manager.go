package ws

import "sync"

// Manager owns the process's single chat connection.
type Manager struct {
	url  string
	opts Options

	mu   sync.Mutex
	conn *Conn
}

func NewManager(url string, opts Options) *Manager {
	return &Manager{url: url, opts: opts}
}

// Acquire returns the connection for token, reusing the current one when it
// is connected, or when it was made for the same token and has not given up
// reconnecting. An empty token releases the connection and returns nil.
func (m *Manager) Acquire(token string) *Conn {
	if token == "" {
		m.Release()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		if m.conn.Connected() || (m.conn.token == token && m.conn.Alive()) {
			return m.conn
		}
		m.conn.Close()
	}
	m.conn = Dial(m.url, token, m.opts)
	return m.conn
}

// Current returns the live connection, if any.
func (m *Manager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) Release() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
