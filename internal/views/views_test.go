package views

import (
	"strings"
	"testing"
	"time"

	"github.com/4xmen/cineadmin/internal/chat"
	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/pkg/i18n"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	i18n.SetLocale("en")
	t.Cleanup(func() { i18n.SetLocale("vi") })
	return &Renderer{Width: 40, Location: time.UTC, Now: func() time.Time { return now }}
}

func userMsg(id, conv, content string, at time.Time, read bool) models.Message {
	uid := "u-" + conv
	return models.Message{
		ID: id, ConversationID: conv, UserID: &uid, SenderType: models.SenderUser,
		Content: content, IsRead: read, CreatedAt: at,
		User: &models.UserSummary{ID: uid, DisplayName: "Lan"},
	}
}

func adminMsg(id, conv, content string, at time.Time) models.Message {
	aid := "a1"
	return models.Message{ID: id, ConversationID: conv, AdminID: &aid, SenderType: models.SenderAdmin, Content: content, CreatedAt: at}
}

func TestConversationList(t *testing.T) {
	r := newRenderer(t)
	store := chat.NewStore()
	store.SetConversations([]models.Conversation{
		{
			ID: "c1", Status: models.StatusOpen, LastMessageAt: now.Add(-5 * time.Minute),
			User:     models.UserSummary{ID: "u1", DisplayName: "Lan"},
			Messages: []models.Message{userMsg("m1", "c1", "xin chao\nban oi", now.Add(-5*time.Minute), false)},
		},
		{
			ID: "c2", Status: models.StatusClosed, LastMessageAt: now.Add(-2 * time.Hour),
			User: models.UserSummary{ID: "u2", Email: "binh@example.com"},
		},
	})
	store.Select("c1")

	got := r.ConversationList(store, "")
	want := "> 1. Lan [OPEN] (1) · 5 minutes ago\n" +
		"    xin chao ban oi\n" +
		"  2. binh@example.com [CLOSED] · 2 hours ago\n" +
		"    no messages yet\n"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}

	if got := r.ConversationList(store, models.StatusClosed); strings.Contains(got, "Lan") {
		t.Errorf("status filter leaked an open conversation:\n%s", got)
	}
	if got := r.ConversationList(chat.NewStore(), ""); got != "no conversations\n" {
		t.Errorf("unexpected empty list %q", got)
	}
}

func TestThreadStates(t *testing.T) {
	r := newRenderer(t)
	store := chat.NewStore()
	store.SetConversations([]models.Conversation{{
		ID: "c1", Status: models.StatusOpen,
		User: models.UserSummary{ID: "u1", DisplayName: "Lan", Email: "lan@example.com"},
	}})

	if got := r.Thread(store); got != "select a conversation to start\n" {
		t.Errorf("unexpected idle thread %q", got)
	}

	store.Select("c1")
	if got := r.Thread(store); !strings.HasSuffix(got, "loading messages...\n") {
		t.Errorf("expected loading state, got %q", got)
	}

	store.SetLoadingMessages(false)
	got := r.Thread(store)
	if !strings.HasPrefix(got, "Lan <lan@example.com>\n") || !strings.HasSuffix(got, "no messages yet\n") {
		t.Errorf("unexpected empty thread %q", got)
	}
}

func TestThreadMessagesAndTyping(t *testing.T) {
	r := newRenderer(t)
	store := chat.NewStore()
	store.SetConversations([]models.Conversation{{ID: "c1", User: models.UserSummary{ID: "u1", DisplayName: "Lan"}}})
	gen := store.Select("c1")
	store.ApplyHistory("c1", gen, []models.Message{
		userMsg("m1", "c1", "hello", now, false),
		adminMsg("m2", "c1", "hi!", now.Add(time.Minute)),
	})

	got := r.Thread(store)
	if !strings.Contains(got, "  Lan\n  hello\n  12:00\n") {
		t.Errorf("user bubble missing:\n%s", got)
	}
	if !strings.Contains(got, strings.Repeat(" ", 37)+"hi!\n") {
		t.Errorf("admin bubble not right aligned:\n%s", got)
	}
	if strings.Contains(got, "typing") {
		t.Error("no typing indicator expected yet")
	}

	store.UpdateTyping(models.TypingSignal{SenderType: models.SenderAdmin, ConversationID: "c1", IsTyping: true})
	if strings.Contains(r.Thread(store), "typing") {
		t.Error("admin typing should not be shown")
	}

	store.UpdateTyping(models.TypingSignal{SenderType: models.SenderUser, ConversationID: "c1", IsTyping: true})
	if !strings.HasSuffix(r.Thread(store), "Lan typing...\n") {
		t.Errorf("expected typing indicator:\n%s", r.Thread(store))
	}
}

func TestAttachmentRendering(t *testing.T) {
	r := newRenderer(t)

	image := r.Attachment(models.Attachment{Type: models.AttachmentImage, URL: "/files/a.png", FileName: "a.png", FileSize: 2048})
	if image != "[image] a.png /files/a.png" {
		t.Errorf("image = %q", image)
	}
	file := r.Attachment(models.Attachment{Type: models.AttachmentFile, URL: "/files/r.pdf", FileName: "r.pdf", FileSize: 1536})
	if file != "[file] r.pdf (1.5 KiB) /files/r.pdf" {
		t.Errorf("file = %q", file)
	}

	msg := userMsg("m1", "c1", "", now, false)
	msg.Attachments = models.RawAttachment(`"{\"type\":\"file\",\"url\":\"/files/r.pdf\",\"fileName\":\"r.pdf\",\"fileSize\":0}"`)
	if got := r.Message(msg); !strings.Contains(got, "[file] r.pdf (0 B) /files/r.pdf") {
		t.Errorf("string-encoded attachment not rendered:\n%s", got)
	}
}

func TestStatusBar(t *testing.T) {
	r := newRenderer(t)
	store := chat.NewStore()
	if got := r.StatusBar(store); got != "○ disconnected" {
		t.Errorf("got %q", got)
	}
	store.SetConnected(true)
	if got := r.StatusBar(store); got != "● connected" {
		t.Errorf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("xin chào các bạn", 8); got != "xin chà…" {
		t.Errorf("got %q", got)
	}
	if got := truncate("short", 8); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestUserListAndProfile(t *testing.T) {
	r := newRenderer(t)
	name := "Lan"
	page := models.UsersPage{
		Data: []models.User{
			{ID: "u1", Email: "lan@example.com", DisplayName: &name, IsActive: true, CreatedAt: now.Add(-time.Hour)},
			{ID: "u2", Email: "ghost@example.com", CreatedAt: now.Add(-time.Hour)},
		},
		Meta: models.PageMeta{Total: 2, Page: 1, Limit: 20, TotalPages: 1},
	}

	got := r.UserList(page)
	for _, want := range []string{
		"  1. Lan <lan@example.com> [active]",
		"  2. ghost@example.com <ghost@example.com> [inactive]",
		"page 1/1 · 2\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("user list missing %q:\n%s", want, got)
		}
	}

	if got := r.UserList(models.UsersPage{}); got != "no users\n" {
		t.Errorf("empty list = %q", got)
	}

	full := "Support Admin"
	if got := r.Profile(models.Admin{ID: "a1", Email: "admin@example.com", FullName: &full}); got != "Support Admin <admin@example.com>\nid a1\n" {
		t.Errorf("profile = %q", got)
	}
}
