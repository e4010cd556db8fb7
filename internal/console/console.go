// Package console is the interactive admin chat console: it reads commands
// and message text line by line and prints the chat state as it changes.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/4xmen/cineadmin/internal/api"
	"github.com/4xmen/cineadmin/internal/auth"
	"github.com/4xmen/cineadmin/internal/bridge"
	"github.com/4xmen/cineadmin/internal/chat"
	"github.com/4xmen/cineadmin/internal/composer"
	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/notify"
	"github.com/4xmen/cineadmin/internal/observability"
	"github.com/4xmen/cineadmin/internal/views"
	"github.com/4xmen/cineadmin/internal/ws"
	"github.com/4xmen/cineadmin/pkg/config"
	"github.com/4xmen/cineadmin/pkg/i18n"
)

var errQuit = errors.New("quit")

type Console struct {
	session   *auth.Session
	client    *api.Client
	store     *chat.Store
	loader    *chat.Loader
	bridge    *bridge.Bridge
	lifecycle *bridge.Lifecycle
	composer  *composer.Composer
	renderer  *views.Renderer
	notifier  notify.Notifier
	out       *lockedWriter
	log       *slog.Logger

	away atomic.Bool

	mu          sync.Mutex
	filter      models.ConversationStatus
	users       []models.User
	shown       map[string]bool
	opening     bool
	typing      bool
	unsubscribe func()
}

// New wires the chat core together. extra receives every notification in
// addition to the console output; it may be nil.
func New(cfg *config.Config, session *auth.Session, client *api.Client, out io.Writer, extra notify.Notifier) *Console {
	w := &lockedWriter{w: out}
	notifier := notify.Multi{notify.NewWriter(w), extra}

	store := chat.NewStore()
	manager := ws.NewManager(cfg.SocketURL, ws.Options{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		Timeout:           cfg.ConnectTimeout,
	})

	c := &Console{
		session:  session,
		client:   client,
		store:    store,
		loader:   chat.NewLoader(store, client),
		renderer: views.NewRenderer(),
		notifier: notifier,
		out:      w,
		log:      observability.WithFields("component", "console"),
		shown:    make(map[string]bool),
	}
	c.bridge = bridge.New(store, notifier, c, cfg.TypingTTL)
	c.lifecycle = bridge.NewLifecycle(manager, c.bridge, store)
	c.composer = composer.New(client, c.lifecycle, store, notifier, composer.Options{MaxUploadSize: cfg.MaxUploadSize})
	return c
}

// Focused reports whether the admin is looking at the console.
func (c *Console) Focused() bool {
	return !c.away.Load()
}

// Start connects with the stored credential, if any, and keeps the
// connection following the session from then on.
func (c *Console) Start(ctx context.Context) {
	c.session.OnChange(c.lifecycle.SetCredential)
	c.client.OnUnauthorized(func() {
		c.notifier.Notify(notify.Error("session expired, please log in again"))
		if err := c.session.Logout(); err != nil {
			c.log.Error("failed to clear session", "error", err)
		}
	})
	c.unsubscribe = c.store.Subscribe(c.onStoreChange)

	token := c.session.Token()
	if token == "" {
		c.printf("%s\n", i18n.Translate("not logged in"))
		return
	}
	c.lifecycle.SetCredential(token)
	if admin := c.session.Admin(); admin != nil {
		c.printf("%s\n", admin.Name())
	}
	c.refresh(ctx)
}

// Close drops the connection. The stored session is kept.
func (c *Console) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.lifecycle.SetCredential("")
}

// Run executes lines from in until /quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	c.printf("%s\n", c.renderer.StatusBar(c.store))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.log.Debug("command failed", "line", line, "error", err)
			}
		}
	}
}

// Execute handles one line of input. Anything that is not a command is sent
// to the open conversation. User-facing failures are reported through the
// notifier; the returned error is for logging.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		c.composer.SetText(line)
		return c.composer.Send()
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/help":
		c.printf("%s", help)
	case "/quit", "/exit":
		return errQuit
	case "/status":
		c.printf("%s\n", c.renderer.StatusBar(c.store))
	case "/login":
		return c.login(ctx, arg)
	case "/logout":
		return c.session.Logout()
	case "/me":
		return c.profile(ctx)
	case "/users":
		return c.listUsers(ctx, arg)
	case "/user":
		return c.setUserActive(ctx, arg)
	case "/list":
		return c.list(ctx, arg)
	case "/open":
		return c.open(ctx, arg)
	case "/attach":
		if arg == "" {
			return c.usage("/attach <path>")
		}
		if err := c.composer.Attach(ctx, arg); err != nil {
			return err
		}
		if a := c.composer.Attachment(); a != nil {
			c.printf("%s", c.renderer.Attachment(*a))
		}
	case "/detach":
		c.composer.RemoveAttachment()
	case "/close":
		return c.closeConversation(ctx)
	case "/away":
		c.away.Store(true)
	case "/back":
		c.away.Store(false)
		c.printf("%s", c.renderer.Thread(c.store))
	default:
		c.notifier.Notify(notify.Error("unknown command " + name))
		return fmt.Errorf("unknown command %s", name)
	}
	return nil
}

const help = `/list [OPEN|CLOSED|ALL]  refresh and show conversations
/open <n|id>             open a conversation
/attach <path>           upload a file for the next message
/detach                  drop the pending attachment
/close                   close the open conversation
/away, /back             toggle new-message notifications
/login <email> <pass>    sign in
/logout                  sign out
/me                      show the signed-in admin
/users [search] [page]   list end users
/user <n|id> on|off      activate or deactivate a listed user
/status                  connection status
/quit                    leave
anything else is sent to the open conversation
`

func (c *Console) usage(text string) error {
	c.notifier.Notify(notify.Info("usage: " + text))
	return errors.New("bad usage")
}

func (c *Console) login(ctx context.Context, arg string) error {
	email, password, ok := strings.Cut(arg, " ")
	if !ok {
		return c.usage("/login <email> <password>")
	}
	token, admin, err := c.client.Login(ctx, email, strings.TrimSpace(password))
	if err != nil {
		c.notifier.Notify(notify.Error(loginError(err)))
		return err
	}
	if err := c.session.SetAuth(token, admin); err != nil {
		return err
	}
	c.printf("%s\n", admin.Name())
	c.refresh(ctx)
	return nil
}

func loginError(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func (c *Console) list(ctx context.Context, arg string) error {
	filter := models.ConversationStatus("")
	if arg != "" && !strings.EqualFold(arg, "all") {
		status, err := models.ParseStatus(arg)
		if err != nil {
			return c.usage("/list [OPEN|CLOSED|ALL]")
		}
		filter = status
	}
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()

	err := c.loader.RefreshConversations(ctx, filter)
	c.printf("%s", c.renderer.ConversationList(c.store, filter))
	return err
}

func (c *Console) refresh(ctx context.Context) {
	c.mu.Lock()
	filter := c.filter
	c.mu.Unlock()
	if err := c.loader.RefreshConversations(ctx, filter); err == nil {
		c.printf("%s", c.renderer.ConversationList(c.store, filter))
	}
}

// resolve turns a list number, a conversation id or an id prefix into an id.
func (c *Console) resolve(arg string) (string, bool) {
	c.mu.Lock()
	filter := c.filter
	c.mu.Unlock()

	var visible []models.Conversation
	for _, conv := range c.store.Conversations() {
		if filter == "" || conv.Status == filter {
			visible = append(visible, conv)
		}
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= len(visible) {
			return visible[n-1].ID, true
		}
		return "", false
	}

	match := ""
	for _, conv := range visible {
		if conv.ID == arg {
			return conv.ID, true
		}
		if strings.HasPrefix(conv.ID, arg) {
			if match != "" {
				return "", false
			}
			match = conv.ID
		}
	}
	return match, match != ""
}

func (c *Console) open(ctx context.Context, arg string) error {
	if arg == "" {
		return c.usage("/open <n|id>")
	}
	id, ok := c.resolve(arg)
	if !ok {
		c.notifier.Notify(notify.Error("conversation not found"))
		return fmt.Errorf("no conversation matches %q", arg)
	}

	c.mu.Lock()
	c.shown = make(map[string]bool)
	c.opening = true
	c.typing = false
	c.mu.Unlock()

	err := c.loader.Open(ctx, id)

	c.mu.Lock()
	c.opening = false
	for _, msg := range c.store.Messages() {
		c.shown[msg.ID] = true
	}
	c.mu.Unlock()
	if c.store.SelectedID() != id {
		return err
	}
	c.printf("%s", c.renderer.Thread(c.store))
	return err
}

func (c *Console) profile(ctx context.Context) error {
	admin, err := c.client.Me(ctx)
	if err != nil {
		c.notifier.Notify(notify.Error("failed to load profile"))
		return err
	}
	c.printf("%s", c.renderer.Profile(*admin))
	return nil
}

// listUsers takes an optional search term followed by an optional page number.
func (c *Console) listUsers(ctx context.Context, arg string) error {
	q := models.UserQuery{}
	fields := strings.Fields(arg)
	if n := len(fields); n > 0 {
		if page, err := strconv.Atoi(fields[n-1]); err == nil {
			q.Page = page
			fields = fields[:n-1]
		}
	}
	q.Search = strings.Join(fields, " ")

	page, err := c.client.Users(ctx, q)
	if err != nil {
		c.notifier.Notify(notify.Error("failed to fetch users"))
		return err
	}
	c.mu.Lock()
	c.users = page.Data
	c.mu.Unlock()
	c.printf("%s", c.renderer.UserList(*page))
	return nil
}

func (c *Console) setUserActive(ctx context.Context, arg string) error {
	ref, state, _ := strings.Cut(arg, " ")
	var active bool
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "on", "activate":
		active = true
	case "off", "deactivate":
	default:
		return c.usage("/user <n|id> on|off")
	}

	id, ok := c.resolveUser(ref)
	if !ok {
		c.notifier.Notify(notify.Error("user not found"))
		return fmt.Errorf("no listed user matches %q", ref)
	}
	if err := c.client.UpdateUserStatus(ctx, id, active); err != nil {
		c.notifier.Notify(notify.Error("failed to update user"))
		return err
	}

	c.mu.Lock()
	for i := range c.users {
		if c.users[i].ID == id {
			c.users[i].IsActive = active
		}
	}
	c.mu.Unlock()
	if active {
		c.notifier.Notify(notify.Info("user activated"))
	} else {
		c.notifier.Notify(notify.Info("user deactivated"))
	}
	return nil
}

// resolveUser accepts a number from the last /users listing or a user id.
func (c *Console) resolveUser(ref string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(c.users) {
			return c.users[n-1].ID, true
		}
		return "", false
	}
	if ref == "" {
		return "", false
	}
	for _, u := range c.users {
		if u.ID == ref {
			return u.ID, true
		}
	}
	// unlisted ids go to the server as is
	return ref, true
}

func (c *Console) closeConversation(ctx context.Context) error {
	id := c.store.SelectedID()
	if id == "" {
		c.notifier.Notify(notify.Error("please select a conversation"))
		return composer.ErrNoConversation
	}
	if err := c.client.CloseConversation(ctx, id); err != nil {
		c.notifier.Notify(notify.Error("failed to close conversation"))
		return err
	}
	c.refresh(ctx)
	return nil
}

// onStoreChange prints messages that reached the open thread since it was
// last printed, and the user's typing indicator when it appears.
func (c *Console) onStoreChange() {
	id := c.store.SelectedID()
	if id == "" || c.store.LoadingMessages() {
		return
	}

	var fresh []models.Message
	c.mu.Lock()
	if c.opening {
		c.mu.Unlock()
		return
	}
	for _, msg := range c.store.Messages() {
		if c.shown[msg.ID] {
			continue
		}
		c.shown[msg.ID] = true
		fresh = append(fresh, msg)
	}
	signal, ok := c.store.Typing(id)
	typing := ok && signal.IsTyping && signal.SenderType == models.SenderUser
	startedTyping := typing && !c.typing
	c.typing = typing
	c.mu.Unlock()

	for _, msg := range fresh {
		c.printf("%s", c.renderer.Message(msg))
	}
	if startedTyping {
		name := signal.DisplayName
		if name == "" {
			name = "user"
		}
		c.printf("%s %s\n", name, i18n.Translate("typing..."))
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
