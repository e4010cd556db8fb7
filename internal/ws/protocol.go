package ws

import (
	"encoding/json"
	"errors"
	"time"
)

// Event names on the real-time channel.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventNewMessage   = "newMessage"
	EventTyping       = "typing"
	EventError        = "error"
	EventSendMessage  = "sendMessage"
	EventAck          = "ack"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 1 << 20
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrSendBuffer   = errors.New("send buffer full")
)

// Frame is one event on the wire. Ack carries the id of an emit that wants a
// reply; the reply comes back as an "ack" frame with the same id.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// ErrorPayload is the data of connect_error and error frames.
type ErrorPayload struct {
	Message string `json:"message"`
}

func errorData(err error) json.RawMessage {
	data, _ := json.Marshal(ErrorPayload{Message: err.Error()})
	return data
}
