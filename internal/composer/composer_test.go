package composer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/notify"
	"github.com/4xmen/cineadmin/internal/ws"
	"github.com/4xmen/cineadmin/pkg/i18n"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type fakeUploader struct {
	mu    sync.Mutex
	calls int
	names []string
	gate  chan struct{}
	err   error
	kind  models.AttachmentType
}

func (f *fakeUploader) UploadChatFile(ctx context.Context, name string, r io.Reader) (*models.UploadedFile, error) {
	f.mu.Lock()
	f.calls++
	f.names = append(f.names, name)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(r)
	return &models.UploadedFile{Type: f.kind, URL: "/files/" + name, FileName: name, FileSize: int64(len(data))}, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type emitted struct {
	event   string
	payload models.SendMessagePayload
	ack     ws.AckFunc
}

type fakeSender struct {
	connected bool
	emits     []emitted
	during    func()
}

func (f *fakeSender) Emit(event string, payload any, ack ws.AckFunc) error {
	if !f.connected {
		return ws.ErrNotConnected
	}
	f.emits = append(f.emits, emitted{event: event, payload: payload.(models.SendMessagePayload), ack: ack})
	if f.during != nil {
		f.during()
	}
	return nil
}

func (f *fakeSender) Connected() bool { return f.connected }

type selected string

func (s selected) SelectedID() string { return string(s) }

type fixture struct {
	c        *Composer
	uploader *fakeUploader
	sender   *fakeSender
	notes    *notify.Recorder
	previews *Previews
}

func newFixture(t *testing.T, conversation string, connected bool) *fixture {
	t.Helper()
	i18n.SetLocale("en")
	t.Cleanup(func() { i18n.SetLocale("vi") })

	f := &fixture{
		uploader: &fakeUploader{},
		sender:   &fakeSender{connected: connected},
		notes:    &notify.Recorder{},
		previews: NewPreviews(),
	}
	f.c = New(f.uploader, f.sender, selected(conversation), f.notes, Options{Previews: f.previews})
	return f
}

func (f *fixture) lastNote(t *testing.T) notify.Notification {
	t.Helper()
	all := f.notes.All()
	if len(all) == 0 {
		t.Fatal("expected a notification")
	}
	return all[len(all)-1]
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSendEmptyIsNoop(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.c.SetText("   \n\t ")

	if err := f.c.Send(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(f.sender.emits) != 0 {
		t.Errorf("expected nothing emitted, got %d", len(f.sender.emits))
	}
	if len(f.notes.All()) != 0 {
		t.Errorf("expected no notification, got %v", f.notes.All())
	}
}

func TestSendWithoutConversation(t *testing.T) {
	f := newFixture(t, "", true)
	f.c.SetText("hello")

	if err := f.c.Send(); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
	if note := f.lastNote(t); note.Body != "please select a conversation" {
		t.Errorf("unexpected notification %q", note.Body)
	}
	if f.c.Text() != "hello" {
		t.Error("draft should survive a rejected send")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	f := newFixture(t, "c1", false)
	f.c.SetText("hello")

	if err := f.c.Send(); !errors.Is(err, ws.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if len(f.sender.emits) != 0 {
		t.Error("nothing should be emitted while disconnected")
	}
	if note := f.lastNote(t); note.Kind != notify.KindError || note.Body != "connection lost, please reconnect" {
		t.Errorf("unexpected notification %+v", note)
	}
}

func TestSendTextClearsDraft(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.c.SetText("  hello there  ")

	if err := f.c.Send(); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(f.sender.emits) != 1 {
		t.Fatalf("expected one emit, got %d", len(f.sender.emits))
	}
	e := f.sender.emits[0]
	if e.event != ws.EventSendMessage || e.payload.ConversationID != "c1" || e.payload.Content != "hello there" {
		t.Errorf("unexpected emit %+v", e)
	}
	if e.payload.Attachments != nil {
		t.Error("expected no attachment in payload")
	}
	if e.ack == nil {
		t.Error("expected send to ask for an acknowledgment")
	}
	if f.c.Text() != "" {
		t.Error("expected text cleared after send")
	}
}

func TestNegativeAckNotifies(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.c.SetText("hello")
	if err := f.c.Send(); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	ack := f.sender.emits[0].ack
	ack(json.RawMessage(`{"success":true,"message":{"id":"m1"}}`))
	if len(f.notes.All()) != 0 {
		t.Fatal("positive ack should be silent")
	}

	ack(json.RawMessage(`{"success":false,"error":"conversation is closed"}`))
	if note := f.lastNote(t); note.Body != "failed to send message: conversation is closed" {
		t.Errorf("unexpected notification %q", note.Body)
	}
}

func TestAttachRejectsOversizedFile(t *testing.T) {
	f := newFixture(t, "c1", true)

	path := filepath.Join(t.TempDir(), "big.bin")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := file.Truncate(12 * 1024 * 1024); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	file.Close()

	if err := f.c.Attach(context.Background(), path); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if f.uploader.count() != 0 {
		t.Error("oversized file must not be uploaded")
	}
	if f.c.Attachment() != nil {
		t.Error("attachment should stay empty")
	}
	if note := f.lastNote(t); note.Body != "file too large (max 10MB)" {
		t.Errorf("unexpected notification %q", note.Body)
	}
}

func TestImageAttachThenRemoveRevokesPreview(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.uploader.kind = models.AttachmentImage
	path := writeFile(t, "poster.png", pngHeader)

	if err := f.c.Attach(context.Background(), path); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	a := f.c.Attachment()
	if a == nil || a.Type != models.AttachmentImage || a.FileName != "poster.png" || a.URL != "/files/poster.png" {
		t.Fatalf("unexpected attachment %+v", a)
	}
	handle := f.c.Preview()
	if got, ok := f.previews.Path(handle); !ok || got != path {
		t.Fatalf("expected live preview for %s, got %q", path, got)
	}

	f.c.RemoveAttachment()

	if f.c.Attachment() != nil {
		t.Error("expected attachment cleared")
	}
	if f.previews.Len() != 0 || f.c.Preview() != "" {
		t.Error("expected preview revoked")
	}
}

func TestSniffedImageWithoutServerType(t *testing.T) {
	f := newFixture(t, "c1", true)
	path := writeFile(t, "still", pngHeader)

	if err := f.c.Attach(context.Background(), path); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if a := f.c.Attachment(); a.Type != models.AttachmentImage {
		t.Errorf("expected sniffed image type, got %q", a.Type)
	}
}

func TestDocumentAttachHasNoPreview(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.uploader.kind = models.AttachmentFile
	path := writeFile(t, "notes.txt", []byte("plain text notes"))

	if err := f.c.Attach(context.Background(), path); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if a := f.c.Attachment(); a == nil || a.Type != models.AttachmentFile {
		t.Fatalf("unexpected attachment %+v", a)
	}
	if f.previews.Len() != 0 {
		t.Error("documents should not get a preview")
	}
}

func TestReplacingAttachmentRevokesOldPreview(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.uploader.kind = models.AttachmentImage

	if err := f.c.Attach(context.Background(), writeFile(t, "a.png", pngHeader)); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	first := f.c.Preview()
	if err := f.c.Attach(context.Background(), writeFile(t, "b.png", pngHeader)); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if _, ok := f.previews.Path(first); ok {
		t.Error("old preview should be revoked")
	}
	if f.previews.Len() != 1 {
		t.Errorf("expected one live preview, got %d", f.previews.Len())
	}
}

func TestSendAttachmentOnlyUsesFileName(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.uploader.kind = models.AttachmentImage
	if err := f.c.Attach(context.Background(), writeFile(t, "poster.png", pngHeader)); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if err := f.c.Send(); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	p := f.sender.emits[0].payload
	if p.Content != "poster.png" {
		t.Errorf("expected file name as content, got %q", p.Content)
	}
	if p.Attachments == nil || p.Attachments.URL != "/files/poster.png" {
		t.Errorf("unexpected attachment payload %+v", p.Attachments)
	}
	if f.c.Attachment() != nil || f.previews.Len() != 0 {
		t.Error("expected attachment and preview cleared after send")
	}
}

func TestSendKeepsDraftChangedDuringEmit(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.uploader.kind = models.AttachmentImage
	if err := f.c.Attach(context.Background(), writeFile(t, "a.png", pngHeader)); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f.c.SetText("first")

	next := writeFile(t, "b.png", pngHeader)
	f.sender.during = func() {
		if err := f.c.Attach(context.Background(), next); err != nil {
			t.Errorf("Attach during send failed: %v", err)
		}
		f.c.SetText("second")
	}

	if err := f.c.Send(); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if p := f.sender.emits[0].payload; p.Attachments == nil || p.Attachments.FileName != "a.png" {
		t.Fatalf("expected a.png sent, got %+v", p.Attachments)
	}
	if a := f.c.Attachment(); a == nil || a.FileName != "b.png" {
		t.Errorf("attachment committed during send was dropped, got %+v", a)
	}
	if f.c.Text() != "second" {
		t.Errorf("text typed during send was dropped, got %q", f.c.Text())
	}
	if f.previews.Len() != 1 || f.c.Preview() == "" {
		t.Errorf("expected only the new preview live, got %d", f.previews.Len())
	}
}

func TestUploadFailureCommitsNothing(t *testing.T) {
	f := newFixture(t, "c1", true)
	f.uploader.err = errors.New("boom")

	err := f.c.Attach(context.Background(), writeFile(t, "a.txt", []byte("x")))
	if err == nil {
		t.Fatal("expected error")
	}
	if f.c.Attachment() != nil || f.c.Uploading() {
		t.Error("failed upload should leave no attachment and no upload in flight")
	}
	if note := f.lastNote(t); note.Body != "upload failed, please try again" {
		t.Errorf("unexpected notification %q", note.Body)
	}
}

func TestSingleUploadAtATime(t *testing.T) {
	f := newFixture(t, "c1", true)
	gate := make(chan struct{})
	f.uploader.gate = gate
	path := writeFile(t, "a.txt", []byte("x"))

	done := make(chan error, 1)
	go func() { done <- f.c.Attach(context.Background(), path) }()

	for f.uploader.count() == 0 {
		time.Sleep(time.Millisecond)
	}
	if !f.c.Uploading() {
		t.Fatal("expected upload in progress")
	}
	if err := f.c.Attach(context.Background(), path); !errors.Is(err, ErrUploadInProgress) {
		t.Errorf("expected ErrUploadInProgress, got %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	if f.uploader.count() != 1 {
		t.Errorf("expected exactly one upload, got %d", f.uploader.count())
	}
}
