package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SenderType string

const (
	SenderUser  SenderType = "USER"
	SenderAdmin SenderType = "ADMIN"
)

type ConversationStatus string

const (
	StatusOpen   ConversationStatus = "OPEN"
	StatusClosed ConversationStatus = "CLOSED"
)

// ParseStatus accepts a status name in any case. An empty string yields "".
func ParseStatus(s string) (ConversationStatus, error) {
	switch ConversationStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case StatusOpen:
		return StatusOpen, nil
	case StatusClosed:
		return StatusClosed, nil
	}
	return "", fmt.Errorf("unknown conversation status %q", s)
}

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

var (
	ErrEmptyMessage   = errors.New("message has neither content nor attachment")
	ErrSenderMismatch = errors.New("sender reference does not match sender type")
)

// UserSummary is the denormalized end-user profile embedded in conversations
// and user-sent messages.
type UserSummary struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Email       string  `json:"email,omitempty"`
}

type AdminSummary struct {
	ID       string  `json:"id"`
	FullName *string `json:"full_name,omitempty"`
	Email    string  `json:"email"`
}

// Admin is the signed-in operator profile returned by /admin/auth/me.
type Admin struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	FullName *string `json:"full_name,omitempty"`
}

func (a *Admin) Name() string {
	if a == nil {
		return ""
	}
	if a.FullName != nil && *a.FullName != "" {
		return *a.FullName
	}
	return a.Email
}

type Conversation struct {
	ID            string             `json:"id"`
	UserID        string             `json:"userId"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	CreatedAt     time.Time          `json:"createdAt"`
	Messages      []Message          `json:"messages,omitempty"`
	User          UserSummary        `json:"user"`
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	UserID         *string       `json:"userId"`
	AdminID        *string       `json:"adminId"`
	SenderType     SenderType    `json:"senderType"`
	Content        string        `json:"content"`
	Attachments    RawAttachment `json:"attachments,omitempty"`
	IsRead         bool          `json:"isRead"`
	CreatedAt      time.Time     `json:"createdAt"`
	User           *UserSummary  `json:"user,omitempty"`
	Admin          *AdminSummary `json:"admin,omitempty"`
}

// Validate checks the structural invariants of a message: something to show,
// and exactly the sender reference its sender type calls for.
func (m *Message) Validate() error {
	att, err := m.Attachments.Decode()
	if err != nil {
		return err
	}
	if strings.TrimSpace(m.Content) == "" && att == nil {
		return ErrEmptyMessage
	}

	switch m.SenderType {
	case SenderUser:
		if m.UserID == nil || m.AdminID != nil {
			return ErrSenderMismatch
		}
	case SenderAdmin:
		if m.AdminID == nil || m.UserID != nil {
			return ErrSenderMismatch
		}
	default:
		return fmt.Errorf("unknown sender type %q", m.SenderType)
	}
	return nil
}

// SenderName is the display name of whoever sent the message.
func (m *Message) SenderName() string {
	switch m.SenderType {
	case SenderUser:
		if m.User != nil && m.User.DisplayName != "" {
			return m.User.DisplayName
		}
		return "user"
	case SenderAdmin:
		if m.Admin != nil {
			if m.Admin.FullName != nil && *m.Admin.FullName != "" {
				return *m.Admin.FullName
			}
			return m.Admin.Email
		}
		return "admin"
	}
	return string(m.SenderType)
}

type Attachment struct {
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	FileName string         `json:"fileName"`
	FileSize int64          `json:"fileSize"`
}

// RawAttachment holds the attachment field exactly as it came off the wire.
// The backend sends it either as a JSON object or as a string containing an
// encoded object, so it is only usable through Decode.
type RawAttachment []byte

func NewRawAttachment(a *Attachment) RawAttachment {
	if a == nil {
		return nil
	}
	data, _ := json.Marshal(a)
	return RawAttachment(data)
}

func (r *RawAttachment) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

func (r RawAttachment) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

// Decode returns the structured attachment, or nil when there is none.
// A list is accepted and its first element used.
func (r RawAttachment) Decode() (*Attachment, error) {
	data := bytes.TrimSpace(r)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return nil, fmt.Errorf("decode attachment string: %w", err)
		}
		if strings.TrimSpace(encoded) == "" {
			return nil, nil
		}
		return RawAttachment(encoded).Decode()
	case '[':
		var list []RawAttachment
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode attachment list: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[0].Decode()
	case '{':
		var att Attachment
		if err := json.Unmarshal(data, &att); err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
		if att.URL == "" {
			return nil, fmt.Errorf("decode attachment: missing url")
		}
		if att.Type != AttachmentImage {
			att.Type = AttachmentFile
		}
		return &att, nil
	}
	return nil, fmt.Errorf("decode attachment: unexpected %q", data[:1])
}

type TypingSignal struct {
	SenderType     SenderType `json:"senderType"`
	ConversationID string     `json:"conversationId"`
	IsTyping       bool       `json:"isTyping"`
	DisplayName    string     `json:"display_name"`
}

type SendMessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Attachments    *Attachment `json:"attachments,omitempty"`
}

type SendAck struct {
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// UploadedFile is the descriptor returned by POST /chat/upload.
type UploadedFile struct {
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	FileName string         `json:"fileName"`
	FileSize int64          `json:"fileSize"`
}

func (u *UploadedFile) Attachment() *Attachment {
	if u == nil {
		return nil
	}
	t := u.Type
	if t != AttachmentImage {
		t = AttachmentFile
	}
	return &Attachment{Type: t, URL: u.URL, FileName: u.FileName, FileSize: u.FileSize}
}
