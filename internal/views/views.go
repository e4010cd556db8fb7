// Package views renders chat state as plain text for the console.
package views

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/pkg/i18n"
)

const DefaultWidth = 72

// State is the read side of the chat store.
type State interface {
	Conversations() []models.Conversation
	SelectedID() string
	SelectedConversation() (models.Conversation, bool)
	Messages() []models.Message
	LoadingMessages() bool
	Typing(conversationID string) (models.TypingSignal, bool)
	UnreadCount(conversationID string) int
	Connected() bool
}

type Renderer struct {
	Width    int
	Location *time.Location
	Now      func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{Width: DefaultWidth, Location: time.Local, Now: time.Now}
}

// StatusBar is the one-line connection indicator.
func (r *Renderer) StatusBar(s State) string {
	if s.Connected() {
		return "● " + i18n.Translate("connected")
	}
	return "○ " + i18n.Translate("disconnected")
}

// ConversationList renders conversations in store order, numbered from 1,
// keeping only those with the given status when filter is set.
func (r *Renderer) ConversationList(s State, filter models.ConversationStatus) string {
	selected := s.SelectedID()
	var b strings.Builder
	n := 0
	for _, conv := range s.Conversations() {
		if filter != "" && conv.Status != filter {
			continue
		}
		n++
		r.conversationItem(&b, s, n, conv, conv.ID == selected)
	}
	if n == 0 {
		return i18n.Translate("no conversations") + "\n"
	}
	return b.String()
}

func (r *Renderer) conversationItem(b *strings.Builder, s State, n int, conv models.Conversation, selected bool) {
	marker := " "
	if selected {
		marker = ">"
	}
	fmt.Fprintf(b, "%s %d. %s [%s]", marker, n, displayName(conv.User), conv.Status)
	if unread := s.UnreadCount(conv.ID); unread > 0 {
		fmt.Fprintf(b, " (%d)", unread)
	}
	if !conv.LastMessageAt.IsZero() {
		fmt.Fprintf(b, " · %s", r.relative(conv.LastMessageAt))
	}
	b.WriteString("\n")

	last := i18n.Translate("no messages yet")
	if len(conv.Messages) > 0 {
		if content := conv.Messages[len(conv.Messages)-1].Content; content != "" {
			last = content
		}
	}
	fmt.Fprintf(b, "    %s\n", truncate(oneLine(last), r.width()-4))
}

// Header names the user of the open conversation.
func (r *Renderer) Header(conv models.Conversation) string {
	line := displayName(conv.User)
	if conv.User.Email != "" {
		line += " <" + conv.User.Email + ">"
	}
	return line + "\n" + strings.Repeat("─", min(utf8.RuneCountInString(line), r.width())) + "\n"
}

// Thread renders the open conversation: header, messages and the typing
// indicator.
func (r *Renderer) Thread(s State) string {
	if s.SelectedID() == "" {
		return i18n.Translate("select a conversation to start") + "\n"
	}

	var b strings.Builder
	conv, found := s.SelectedConversation()
	if found {
		b.WriteString(r.Header(conv))
	}

	if s.LoadingMessages() {
		b.WriteString(i18n.Translate("loading messages...") + "\n")
		return b.String()
	}

	messages := s.Messages()
	if len(messages) == 0 {
		b.WriteString(i18n.Translate("no messages yet") + "\n")
		return b.String()
	}
	for _, msg := range messages {
		b.WriteString(r.Message(msg))
	}

	if signal, ok := s.Typing(s.SelectedID()); ok && signal.IsTyping && signal.SenderType == models.SenderUser {
		name := signal.DisplayName
		if name == "" && found {
			name = displayName(conv.User)
		}
		b.WriteString(strings.TrimSpace(name+" "+i18n.Translate("typing...")) + "\n")
	}
	return b.String()
}

// Message renders one bubble: admin replies flush right, user messages left
// under the sender's name.
func (r *Renderer) Message(msg models.Message) string {
	var lines []string
	isAdmin := msg.SenderType == models.SenderAdmin
	if !isAdmin {
		lines = append(lines, msg.SenderName())
	}
	if a, err := msg.Attachments.Decode(); err == nil && a != nil {
		lines = append(lines, r.Attachment(*a))
	}
	if msg.Content != "" {
		lines = append(lines, strings.Split(msg.Content, "\n")...)
	}
	lines = append(lines, r.Clock(msg.CreatedAt))

	var b strings.Builder
	for _, line := range lines {
		if isAdmin {
			b.WriteString(alignRight(line, r.width()))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Attachment renders an image inline as its link, anything else as a
// download card with a human readable size.
func (r *Renderer) Attachment(a models.Attachment) string {
	if a.Type == models.AttachmentImage {
		return fmt.Sprintf("[image] %s %s", a.FileName, a.URL)
	}
	return fmt.Sprintf("[file] %s (%s) %s", a.FileName, FileSize(a.FileSize), a.URL)
}

func (r *Renderer) Clock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("15:04")
}

func (r *Renderer) relative(t time.Time) string {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func (r *Renderer) width() int {
	if r.Width <= 0 {
		return DefaultWidth
	}
	return r.Width
}

// Profile renders the signed-in admin.
func (r *Renderer) Profile(a models.Admin) string {
	return fmt.Sprintf("%s <%s>\nid %s\n", a.Name(), a.Email, a.ID)
}

// UserList renders one page of end users, numbered from 1.
func (r *Renderer) UserList(page models.UsersPage) string {
	if len(page.Data) == 0 {
		return i18n.Translate("no users") + "\n"
	}
	var b strings.Builder
	for i, u := range page.Data {
		state := i18n.Translate("active")
		if !u.IsActive {
			state = i18n.Translate("inactive")
		}
		name := u.Email
		if u.DisplayName != nil && *u.DisplayName != "" {
			name = *u.DisplayName
		}
		fmt.Fprintf(&b, "  %d. %s <%s> [%s] · %s\n", i+1, name, u.Email, state, r.relative(u.CreatedAt))
	}
	pages := max(page.Meta.TotalPages, 1)
	fmt.Fprintf(&b, "%s %d/%d · %d\n", i18n.Translate("page"), page.Meta.Page, pages, page.Meta.Total)
	return b.String()
}

func FileSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

func displayName(u models.UserSummary) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

func alignRight(line string, width int) string {
	pad := width - utf8.RuneCountInString(line)
	if pad <= 0 {
		return line
	}
	return strings.Repeat(" ", pad) + line
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if n <= 1 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
