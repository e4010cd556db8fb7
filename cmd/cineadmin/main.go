package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/4xmen/cineadmin/internal/api"
	"github.com/4xmen/cineadmin/internal/auth"
	"github.com/4xmen/cineadmin/internal/console"
	"github.com/4xmen/cineadmin/internal/db"
	"github.com/4xmen/cineadmin/internal/devserver"
	"github.com/4xmen/cineadmin/internal/export"
	"github.com/4xmen/cineadmin/internal/notify"
	"github.com/4xmen/cineadmin/internal/observability"
	"github.com/4xmen/cineadmin/internal/push"
	"github.com/4xmen/cineadmin/pkg/config"
	"github.com/4xmen/cineadmin/pkg/i18n"
)

// app is the client side shared by every command except devserver.
type app struct {
	cfg     *config.Config
	db      *db.DB
	session *auth.Session
	client  *api.Client
}

func openApp(cfg *config.Config) (*app, error) {
	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	session, err := auth.NewSession(database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &app{
		cfg:     cfg,
		db:      database,
		session: session,
		client:  api.New(cfg.APIURL, session),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func main() {
	cfg := config.Load()
	i18n.SetLocale(cfg.Locale)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"console"}
	}
	if err := runCommand(ctx, cfg, args, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}

func runCommand(ctx context.Context, cfg *config.Config, args []string, in io.Reader, out io.Writer) error {
	command := args[0]

	switch command {
	case "devserver":
		return runDevServer(ctx, cfg, args[1:])
	case "-h", "--help", "help":
		printUsage(out)
		return nil
	case "console", "login", "logout", "status", "export":
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "login":
		return runLogin(ctx, a, out, args[1:])
	case "logout":
		return a.session.Logout()
	case "status":
		return runStatus(ctx, a, out, args[1:])
	case "export":
		return runExport(ctx, a, out, args[1:])
	}
	return runConsole(ctx, a, in, out)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  cineadmin                              Start the chat console")
	fmt.Fprintln(out, "  cineadmin login <email> <password>     Sign in and store the session")
	fmt.Fprintln(out, "  cineadmin logout                       Forget the stored session")
	fmt.Fprintln(out, "  cineadmin status [--json]              Show session and backend statistics")
	fmt.Fprintln(out, "  cineadmin export <conversation> <file> Save a conversation transcript as .xlsx")
	fmt.Fprintln(out, "  cineadmin devserver [--seed]           Run the local development backend")
}

func runConsole(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	logPath := filepath.Join(filepath.Dir(a.cfg.DatabasePath), "cineadmin.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	level := slog.LevelInfo
	if a.cfg.Environment == "development" {
		level = slog.LevelDebug
	}
	observability.SetOutput(logFile, level)
	defer observability.SetOutput(os.Stderr, slog.LevelInfo)

	var extra notify.Notifier
	if pusher := push.NewNotifier(a.db, a.cfg.VAPIDPublicKey, a.cfg.VAPIDPrivateKey); pusher != nil {
		if a.cfg.PushSubscription != "" {
			if err := pusher.Subscribe([]byte(a.cfg.PushSubscription)); err != nil {
				observability.Logger().Warn("ignoring push subscription", "error", err)
			}
		}
		extra = pusher
	}

	c := console.New(a.cfg, a.session, a.client, out, extra)
	defer c.Close()

	c.Start(ctx)
	return c.Run(ctx, in)
}

func runLogin(ctx context.Context, a *app, out io.Writer, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: cineadmin login <email> <password>")
	}

	token, admin, err := a.client.Login(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := a.session.SetAuth(token, admin); err != nil {
		return err
	}

	fmt.Fprintf(out, "Logged in as %s\n", admin.Name())
	return nil
}

func runExport(ctx context.Context, a *app, out io.Writer, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: cineadmin export <conversation-id> <file.xlsx>")
	}
	id, path := args[0], args[1]

	conversations, err := a.client.Conversations(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to fetch conversations: %w", err)
	}
	var found bool
	for _, conv := range conversations {
		if conv.ID != id {
			continue
		}
		found = true

		messages, err := a.client.ConversationMessages(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}
		if err := export.SaveTranscript(path, conv, messages, time.Local); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved %d messages to %s\n", len(messages), path)
	}
	if !found {
		return fmt.Errorf("conversation %s not found", id)
	}
	return nil
}

func runDevServer(ctx context.Context, cfg *config.Config, args []string) error {
	seed := false
	for _, arg := range args {
		switch arg {
		case "--seed":
			seed = true
		default:
			return fmt.Errorf("unknown devserver flag: %s", arg)
		}
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	srv, err := devserver.New(cfg, database)
	if err != nil {
		return err
	}
	if seed {
		if err := srv.Seed(ctx); err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
	}
	return srv.Run(ctx)
}
