// Package bridge turns events from the chat socket into store updates and
// notifications.
package bridge

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/4xmen/cineadmin/internal/chat"
	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/notify"
	"github.com/4xmen/cineadmin/internal/observability"
	"github.com/4xmen/cineadmin/internal/ws"
)

const DefaultTypingTTL = 3 * time.Second

// Source is anything that delivers socket events.
type Source interface {
	On(event string, fn ws.Handler) (off func())
}

// Focus reports whether the admin is looking at the dashboard.
type Focus interface {
	Focused() bool
}

type typingTimer struct {
	timer     *time.Timer
	seq       uint64
	retracted models.TypingSignal
}

type Bridge struct {
	store     *chat.Store
	notifier  notify.Notifier
	focus     Focus
	typingTTL time.Duration
	log       *slog.Logger

	mu     sync.Mutex
	offs   []func()
	timers map[string]*typingTimer
	seq    uint64
}

func New(store *chat.Store, notifier notify.Notifier, focus Focus, typingTTL time.Duration) *Bridge {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	return &Bridge{
		store:     store,
		notifier:  notifier,
		focus:     focus,
		typingTTL: typingTTL,
		log:       observability.WithFields("component", "bridge"),
		timers:    make(map[string]*typingTimer),
	}
}

// Attach subscribes to src, dropping any earlier subscription first.
func (b *Bridge) Attach(src Source) {
	b.Detach()
	if src == nil {
		return
	}

	offs := []func(){
		src.On(ws.EventConnect, b.onConnect),
		src.On(ws.EventDisconnect, b.onDisconnect),
		src.On(ws.EventNewMessage, b.onNewMessage),
		src.On(ws.EventTyping, b.onTyping),
		src.On(ws.EventError, b.onError),
		src.On(ws.EventConnectError, b.onConnectError),
	}

	b.mu.Lock()
	b.offs = offs
	b.mu.Unlock()

	// the connection may have come up before the listeners were in place
	if conn, ok := src.(interface{ Connected() bool }); ok && conn.Connected() {
		b.store.SetConnected(true)
	}
}

// Detach unsubscribes every handler. Signals still waiting on their typing
// timer are retracted immediately.
func (b *Bridge) Detach() {
	b.mu.Lock()
	offs := b.offs
	b.offs = nil
	for id, t := range b.timers {
		t.timer.Stop()
		delete(b.timers, id)
		b.store.UpdateTyping(t.retracted)
	}
	b.mu.Unlock()

	for _, off := range offs {
		off()
	}
}

// Attached reports whether the bridge currently listens to a source.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.offs) > 0
}

func (b *Bridge) onConnect(json.RawMessage) {
	b.store.SetConnected(true)
}

func (b *Bridge) onDisconnect(json.RawMessage) {
	b.store.SetConnected(false)
}

func (b *Bridge) onNewMessage(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.log.Warn("dropping undecodable message", "error", err)
		return
	}
	if err := msg.Validate(); err != nil {
		b.log.Warn("dropping invalid message", "message_id", msg.ID, "error", err)
		return
	}

	b.store.AddMessage(msg)

	if msg.SenderType == models.SenderUser && !b.focused() {
		b.notifier.Notify(notify.NewMessage(msg.SenderName(), preview(msg)))
	}
}

func (b *Bridge) onTyping(data json.RawMessage) {
	var signal models.TypingSignal
	if err := json.Unmarshal(data, &signal); err != nil || signal.ConversationID == "" {
		b.log.Warn("dropping malformed typing signal", "error", err)
		return
	}

	// store updates and timer bookkeeping share b.mu so a firing timer can
	// never overwrite a newer signal
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store.UpdateTyping(signal)
	if prev, ok := b.timers[signal.ConversationID]; ok {
		prev.timer.Stop()
		delete(b.timers, signal.ConversationID)
	}
	if !signal.IsTyping {
		return
	}

	b.seq++
	seq := b.seq
	retracted := signal
	retracted.IsTyping = false
	b.timers[signal.ConversationID] = &typingTimer{
		seq:       seq,
		retracted: retracted,
		timer: time.AfterFunc(b.typingTTL, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			current, ok := b.timers[retracted.ConversationID]
			if !ok || current.seq != seq {
				return
			}
			delete(b.timers, retracted.ConversationID)
			b.store.UpdateTyping(retracted)
		}),
	}
}

func (b *Bridge) onError(data json.RawMessage) {
	var payload ws.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		payload.Message = "connection error"
	}
	b.log.Warn("socket error", "message", payload.Message)
	b.notifier.Notify(notify.Error(payload.Message))
}

func (b *Bridge) onConnectError(data json.RawMessage) {
	var payload ws.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		b.log.Debug("undecodable connect error payload", "error", err)
	}
	b.log.Warn("connect error", "message", payload.Message)
	b.notifier.Notify(notify.Error("connection error"))
}

func (b *Bridge) focused() bool {
	return b.focus != nil && b.focus.Focused()
}

func preview(msg models.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	if a, err := msg.Attachments.Decode(); err == nil && a != nil {
		return a.FileName
	}
	return ""
}
