package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/4xmen/cineadmin/internal/auth"
	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/views"
	"github.com/4xmen/cineadmin/pkg/config"
)

type appStatus struct {
	GeneratedAt         time.Time
	Environment         string
	APIURL              string
	SocketURL           string
	DatabasePath        string
	FileStoragePath     string
	LoggedIn            bool
	AdminEmail          string
	TokenExpiresAt      time.Time
	OpenConversations   int
	ClosedConversations int
	UnreadMessages      int
	TotalUsers          int
	ActiveUsers         int
	FeaturedLists       int
	DBSize              int64
	DBWALSize           int64
	DBSHMSize           int64
	UploadDirSize       int64
	UploadFileCount     int64
	BackendReady        bool
	BackendWarning      string
	StorageWarnings     []string
}

type statusOptions struct {
	JSON bool
}

// backendStats is what the status command reads from the admin API.
type backendStats interface {
	Conversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error)
	DashboardStats(ctx context.Context) (*models.DashboardStats, error)
	FeaturedLists(ctx context.Context) ([]models.FeaturedList, error)
}

func parseStatusArgs(args []string) (statusOptions, error) {
	opts := statusOptions{}
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			opts.JSON = true
		default:
			return opts, fmt.Errorf("unknown status flag: %s", arg)
		}
	}
	return opts, nil
}

func runStatus(ctx context.Context, app *app, out io.Writer, args []string) error {
	opts, err := parseStatusArgs(args)
	if err != nil {
		return err
	}

	status := collectStatus(ctx, app.cfg, app.session, app.client)
	if opts.JSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

func collectStatus(ctx context.Context, cfg *config.Config, session *auth.Session, backend backendStats) appStatus {
	status := appStatus{
		GeneratedAt:     time.Now(),
		Environment:     cfg.Environment,
		APIURL:          cfg.APIURL,
		SocketURL:       cfg.SocketURL,
		DatabasePath:    cfg.DatabasePath,
		FileStoragePath: cfg.FileStoragePath,
	}

	if size, err := fileSize(cfg.DatabasePath); err == nil {
		status.DBSize = size
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("database file: %v", err))
	}

	if size, err := fileSize(cfg.DatabasePath + "-wal"); err == nil {
		status.DBWALSize = size
	}

	if size, err := fileSize(cfg.DatabasePath + "-shm"); err == nil {
		status.DBSHMSize = size
	}

	if bytes, files, err := dirUsage(cfg.FileStoragePath); err == nil {
		status.UploadDirSize = bytes
		status.UploadFileCount = files
	} else if !os.IsNotExist(err) {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("upload dir: %v", err))
	}

	token := session.Token()
	if token == "" {
		status.BackendWarning = "not logged in"
		return status
	}
	status.LoggedIn = true
	if admin := session.Admin(); admin != nil {
		status.AdminEmail = admin.Email
	}
	if exp, ok := auth.ExpiresAt(token); ok {
		status.TokenExpiresAt = exp
	}

	if err := fetchBackendStats(ctx, backend, &status); err != nil {
		status.BackendWarning = fmt.Sprintf("backend unavailable: %v", err)
		return status
	}
	status.BackendReady = true
	return status
}

func fetchBackendStats(ctx context.Context, backend backendStats, status *appStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var open, closed []models.Conversation
	var dashboard *models.DashboardStats
	var lists []models.FeaturedList

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		open, err = backend.Conversations(ctx, models.StatusOpen)
		return err
	})
	g.Go(func() (err error) {
		closed, err = backend.Conversations(ctx, models.StatusClosed)
		return err
	})
	g.Go(func() (err error) {
		dashboard, err = backend.DashboardStats(ctx)
		return err
	})
	g.Go(func() (err error) {
		lists, err = backend.FeaturedLists(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	status.OpenConversations = len(open)
	status.ClosedConversations = len(closed)
	for _, conv := range open {
		for _, msg := range conv.Messages {
			if msg.SenderType == models.SenderUser && !msg.IsRead {
				status.UnreadMessages++
			}
		}
	}
	if dashboard != nil {
		status.TotalUsers = dashboard.TotalUsers
		status.ActiveUsers = dashboard.ActiveUsers
	}
	status.FeaturedLists = len(lists)
	return nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func dirUsage(root string) (int64, int64, error) {
	var totalBytes int64
	var totalFiles int64

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		totalBytes += info.Size()
		totalFiles++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return totalBytes, totalFiles, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.Format(time.RFC3339)
}

func printStatus(out io.Writer, status appStatus) {
	totalDB := status.DBSize + status.DBWALSize + status.DBSHMSize

	fmt.Fprintln(out, "CineAdmin Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "API         : %s\n", status.APIURL)
	fmt.Fprintf(out, "Socket      : %s\n", status.SocketURL)
	fmt.Fprintf(out, "Database    : %s\n", status.DatabasePath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Session")
	if status.LoggedIn {
		fmt.Fprintf(out, "  Admin             : %s\n", status.AdminEmail)
		fmt.Fprintf(out, "  Token expires     : %s\n", formatTime(status.TokenExpiresAt))
	} else {
		fmt.Fprintln(out, "  Admin             : not logged in")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Backend")
	if status.BackendReady {
		fmt.Fprintf(out, "  Open conversations   : %d\n", status.OpenConversations)
		fmt.Fprintf(out, "  Closed conversations : %d\n", status.ClosedConversations)
		fmt.Fprintf(out, "  Unread messages      : %d\n", status.UnreadMessages)
		fmt.Fprintf(out, "  Users                : %d (%d active)\n", status.TotalUsers, status.ActiveUsers)
		fmt.Fprintf(out, "  Featured lists       : %d\n", status.FeaturedLists)
	} else {
		fmt.Fprintln(out, "  Backend metrics      : n/a")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Storage")
	fmt.Fprintf(out, "  DB file       : %s\n", views.FileSize(status.DBSize))
	fmt.Fprintf(out, "  DB WAL file   : %s\n", views.FileSize(status.DBWALSize))
	fmt.Fprintf(out, "  DB SHM file   : %s\n", views.FileSize(status.DBSHMSize))
	fmt.Fprintf(out, "  DB footprint  : %s\n", views.FileSize(totalDB))
	fmt.Fprintf(out, "  Dev uploads   : %d (%s)\n", status.UploadFileCount, views.FileSize(status.UploadDirSize))

	if status.BackendWarning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", status.BackendWarning)
	}

	if len(status.StorageWarnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range status.StorageWarnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	payload := map[string]any{
		"generated_at":  status.GeneratedAt.Format(time.RFC3339),
		"environment":   status.Environment,
		"api_url":       status.APIURL,
		"socket_url":    status.SocketURL,
		"database_path": status.DatabasePath,
		"session": map[string]any{
			"logged_in":        status.LoggedIn,
			"admin_email":      status.AdminEmail,
			"token_expires_at": formatTime(status.TokenExpiresAt),
		},
		"backend_ready": status.BackendReady,
		"backend": map[string]any{
			"open_conversations":   status.OpenConversations,
			"closed_conversations": status.ClosedConversations,
			"unread_messages":      status.UnreadMessages,
			"users":                status.TotalUsers,
			"active_users":         status.ActiveUsers,
			"featured_lists":       status.FeaturedLists,
		},
		"storage": map[string]any{
			"db_file_bytes":      status.DBSize,
			"db_wal_bytes":       status.DBWALSize,
			"db_shm_bytes":       status.DBSHMSize,
			"db_footprint_bytes": status.DBSize + status.DBWALSize + status.DBSHMSize,
			"upload_dir_bytes":   status.UploadDirSize,
			"upload_file_count":  status.UploadFileCount,
			"db_footprint_hum":   views.FileSize(status.DBSize + status.DBWALSize + status.DBSHMSize),
			"upload_dir_hum":     views.FileSize(status.UploadDirSize),
		},
		"warnings": map[string]any{
			"backend": status.BackendWarning,
			"storage": status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
