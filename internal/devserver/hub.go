package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/ws"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub fans chat events out to every connected admin socket.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	repo       *Repository
	done       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	adminID string
	conn    *websocket.Conn
	hub     *Hub
	send    chan []byte
}

type outbound struct {
	data []byte
	skip *Client
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// dev backend
		return true
	},
}

func NewHub(repo *Repository) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		repo:       repo,
		done:       make(chan struct{}),
	}
}

// Clients reports how many admin sockets are connected.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to every admin.
func (h *Hub) Broadcast(event string, payload any) {
	h.broadcastExcept(nil, event, payload)
}

func (h *Hub) broadcastExcept(skip *Client, event string, payload any) {
	data, err := encodeFrame(event, "", payload)
	if err != nil {
		log.Printf("hub: failed to encode %s: %v", event, err)
		return
	}
	select {
	case h.broadcast <- outbound{data: data, skip: skip}:
	case <-h.done:
	}
}

// Run owns the client set until ctx is cancelled. A hub cannot be restarted.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Admin %s connected (total: %d)", client.adminID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Admin %s disconnected (total: %d)", client.adminID, total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if client == message.skip {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					log.Printf("Message channel full for admin %s", client.adminID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	adminID := c.GetString("admin_id")
	if adminID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		return
	}

	client := &Client{
		adminID: adminID,
		conn:    conn,
		hub:     h,
		send:    make(chan []byte, 256),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

func encodeFrame(event, ack string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ws.Frame{Event: event, Data: data, Ack: ack})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var frame ws.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case ws.EventSendMessage:
			c.handleSendMessage(frame)
		case ws.EventTyping:
			c.handleTyping(frame)
		default:
			c.reply(ws.EventError, ws.ErrorPayload{Message: "unknown event " + frame.Event})
		}
	}
}

func (c *Client) handleSendMessage(frame ws.Frame) {
	var payload struct {
		ConversationID string               `json:"conversationId"`
		Content        string               `json:"content"`
		Attachments    models.RawAttachment `json:"attachments"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.ConversationID == "" {
		c.ack(frame.Ack, models.SendAck{Error: __("invalid request")})
		return
	}

	adminID := c.adminID
	msg, err := c.hub.repo.AddMessage(context.Background(), models.Message{
		ConversationID: payload.ConversationID,
		AdminID:        &adminID,
		SenderType:     models.SenderAdmin,
		Content:        payload.Content,
		Attachments:    payload.Attachments,
	})
	if err != nil {
		c.ack(frame.Ack, models.SendAck{Error: sendError(err)})
		return
	}

	c.ack(frame.Ack, models.SendAck{Success: true, Message: &msg})
	c.hub.Broadcast(ws.EventNewMessage, msg)
}

func sendError(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return __("conversation not found")
	case errors.Is(err, ErrConversationClosed):
		return __("conversation is closed")
	case errors.Is(err, ErrInvalidMessage):
		return __("invalid request")
	}
	log.Printf("hub: failed to save message: %v", err)
	return __("internal server error")
}

// handleTyping relays an admin's typing signal to the other admins.
func (c *Client) handleTyping(frame ws.Frame) {
	var signal models.TypingSignal
	if err := json.Unmarshal(frame.Data, &signal); err != nil || signal.ConversationID == "" {
		return
	}
	signal.SenderType = models.SenderAdmin
	c.hub.broadcastExcept(c, ws.EventTyping, signal)
}

func (c *Client) ack(id string, payload models.SendAck) {
	if id == "" {
		return
	}
	data, err := encodeFrame(ws.EventAck, id, payload)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) reply(event string, payload any) {
	data, err := encodeFrame(event, "", payload)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Message channel full for admin %s", c.adminID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
