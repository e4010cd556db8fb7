// Package composer holds the admin's draft reply: text, at most one uploaded
// attachment, and the send action.
package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/notify"
	"github.com/4xmen/cineadmin/internal/observability"
	"github.com/4xmen/cineadmin/internal/ws"
)

const DefaultMaxUploadSize int64 = 10 * 1024 * 1024

var (
	ErrFileTooLarge     = errors.New("file too large")
	ErrUploadInProgress = errors.New("an upload is already in progress")
	ErrNoConversation   = errors.New("no conversation selected")
)

type Uploader interface {
	UploadChatFile(ctx context.Context, fileName string, r io.Reader) (*models.UploadedFile, error)
}

// Sender is the live connection replies go out on.
type Sender interface {
	Emit(event string, payload any, ack ws.AckFunc) error
	Connected() bool
}

// Selection tells which conversation the reply belongs to.
type Selection interface {
	SelectedID() string
}

type Composer struct {
	uploader  Uploader
	sender    Sender
	selection Selection
	notifier  notify.Notifier
	previews  PreviewRegistry
	maxSize   int64
	log       *slog.Logger

	mu         sync.Mutex
	text       string
	attachment *models.Attachment
	preview    string
	uploading  bool
}

type Options struct {
	MaxUploadSize int64
	Previews      PreviewRegistry
}

func New(uploader Uploader, sender Sender, selection Selection, notifier notify.Notifier, opts Options) *Composer {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.Previews == nil {
		opts.Previews = NewPreviews()
	}
	return &Composer{
		uploader:  uploader,
		sender:    sender,
		selection: selection,
		notifier:  notifier,
		previews:  opts.Previews,
		maxSize:   opts.MaxUploadSize,
		log:       observability.WithFields("component", "composer"),
	}
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Attachment returns a copy of the committed attachment, or nil.
func (c *Composer) Attachment() *models.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attachment == nil {
		return nil
	}
	a := *c.attachment
	return &a
}

// Preview returns the local preview handle of an image attachment.
func (c *Composer) Preview() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

func (c *Composer) Uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading
}

// Attach uploads the file at path and, on success, makes it the draft's
// attachment, replacing any previous one. Oversized files never reach the
// server.
func (c *Composer) Attach(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%s is a directory", path)
	}
	if err != nil {
		c.notifier.Notify(notify.Error("cannot read file: " + filepath.Base(path)))
		return fmt.Errorf("failed to stat attachment: %w", err)
	}
	if info.Size() > c.maxSize {
		c.notifier.Notify(notify.Error("file too large (max 10MB)"))
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}

	c.mu.Lock()
	if c.uploading {
		c.mu.Unlock()
		c.notifier.Notify(notify.Error("an upload is already in progress"))
		return ErrUploadInProgress
	}
	c.uploading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.uploading = false
		c.mu.Unlock()
	}()

	uploaded, isImage, err := c.upload(ctx, path)
	if err != nil {
		c.log.Error("upload failed", "path", path, "error", err)
		c.notifier.Notify(notify.Error("upload failed, please try again"))
		return fmt.Errorf("failed to upload attachment: %w", err)
	}

	attachment := uploaded.Attachment()
	if uploaded.Type == "" && isImage {
		attachment.Type = models.AttachmentImage
	}

	var handle string
	if isImage {
		if handle, err = c.previews.Create(path); err != nil {
			c.log.Warn("failed to create preview", "path", path, "error", err)
			handle = ""
		}
	}

	c.mu.Lock()
	old := c.preview
	c.attachment = attachment
	c.preview = handle
	c.mu.Unlock()

	if old != "" {
		c.previews.Revoke(old)
	}
	return nil
}

func (c *Composer) upload(ctx context.Context, path string) (*models.UploadedFile, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return nil, false, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, false, err
	}
	isImage := strings.HasPrefix(mtype.String(), "image/")

	uploaded, err := c.uploader.UploadChatFile(ctx, filepath.Base(path), f)
	if err != nil {
		return nil, false, err
	}
	return uploaded, isImage, nil
}

// RemoveAttachment drops the attachment and revokes its preview.
func (c *Composer) RemoveAttachment() {
	c.mu.Lock()
	handle := c.preview
	c.attachment = nil
	c.preview = ""
	c.mu.Unlock()

	if handle != "" {
		c.previews.Revoke(handle)
	}
}

// Send emits the draft to the selected conversation and clears it without
// waiting for the server. A negative acknowledgment is reported through the
// notifier.
func (c *Composer) Send() error {
	conversationID := c.selection.SelectedID()
	if conversationID == "" {
		c.notifier.Notify(notify.Error("please select a conversation"))
		return ErrNoConversation
	}

	c.mu.Lock()
	draft := c.text
	text := strings.TrimSpace(draft)
	committed := c.attachment
	var attachment *models.Attachment
	if committed != nil {
		a := *committed
		attachment = &a
	}
	c.mu.Unlock()

	if text == "" && attachment == nil {
		return nil
	}

	if !c.sender.Connected() {
		c.notifier.Notify(notify.Error("connection lost, please reconnect"))
		return ws.ErrNotConnected
	}

	payload := models.SendMessagePayload{
		ConversationID: conversationID,
		Content:        text,
		Attachments:    attachment,
	}
	if payload.Content == "" {
		payload.Content = attachment.FileName
	}

	err := c.sender.Emit(ws.EventSendMessage, payload, c.onAck(conversationID))
	if err != nil {
		c.log.Error("send failed", "conversation_id", conversationID, "error", err)
		if errors.Is(err, ws.ErrNotConnected) {
			c.notifier.Notify(notify.Error("connection lost, please reconnect"))
		} else {
			c.notifier.Notify(notify.Error("failed to send message"))
		}
		return err
	}

	c.clearSent(draft, committed)
	return nil
}

// clearSent empties the draft, leaving alone any text or attachment that was
// set while the message was being emitted.
func (c *Composer) clearSent(draft string, sent *models.Attachment) {
	c.mu.Lock()
	if c.text == draft {
		c.text = ""
	}
	var handle string
	if sent != nil && c.attachment == sent {
		handle = c.preview
		c.attachment = nil
		c.preview = ""
	}
	c.mu.Unlock()

	if handle != "" {
		c.previews.Revoke(handle)
	}
}

func (c *Composer) onAck(conversationID string) ws.AckFunc {
	return func(data json.RawMessage) {
		var ack models.SendAck
		if err := json.Unmarshal(data, &ack); err != nil {
			c.log.Warn("undecodable send ack", "conversation_id", conversationID, "error", err)
			c.notifier.Notify(notify.Error("failed to send message"))
			return
		}
		if ack.Success {
			if ack.Message != nil {
				c.log.Debug("message sent", "conversation_id", conversationID, "message_id", ack.Message.ID)
			}
			return
		}
		c.log.Warn("send rejected", "conversation_id", conversationID, "error", ack.Error)
		c.notifier.Notify(notify.Error("failed to send message: " + ack.Error))
	}
}
