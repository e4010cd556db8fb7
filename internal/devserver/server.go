// Package devserver is a local stand-in for the admin backend: the REST
// routes and the chat socket the console talks to, backed by SQLite.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/cineadmin/internal/auth"
	"github.com/4xmen/cineadmin/internal/db"
	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/pkg/config"
)

type Server struct {
	cfg       *config.Config
	kv        *db.DB
	repo      *Repository
	hub       *Hub
	issuer    *auth.Issuer
	admin     models.Admin
	adminHash string
	router    *gin.Engine
}

func New(cfg *config.Config, database *db.DB) (*Server, error) {
	if err := ensureDir(cfg.FileStoragePath); err != nil {
		return nil, fmt.Errorf("failed to create file storage: %w", err)
	}

	hash, err := auth.HashPassword(cfg.DevAdminPass)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(cfg.DevAdminEmail)
	name := "Support Admin"
	admin := models.Admin{
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(),
		Email:    email,
		FullName: &name,
	}

	repo := NewRepository(database.GetConn(), models.AdminSummary{ID: admin.ID, FullName: admin.FullName, Email: admin.Email})
	s := &Server{
		cfg:       cfg,
		kv:        database,
		repo:      repo,
		hub:       NewHub(repo),
		issuer:    auth.NewIssuer(cfg.JWTSecret),
		admin:     admin,
		adminHash: hash,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Repository() *Repository {
	return s.repo
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() *gin.Engine {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger())
	router.Use(gin.Logger())
	router.Use(panicRecovery())
	router.Use(corsMiddleware(s.cfg.CORSOrigins))
	router.MaxMultipartMemory = s.cfg.MaxUploadSize

	loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
	uploadLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 30})

	router.POST("/admin/auth/login", rateLimitMiddleware(loginLimiter), s.Login)

	protected := router.Group("")
	protected.Use(authMiddleware(s.issuer))
	{
		protected.GET("/admin/auth/me", s.Me)

		// Chat
		protected.GET("/chat/admin/conversations", s.GetConversations)
		protected.GET("/chat/admin/conversations/:id/messages", s.GetConversationMessages)
		protected.POST("/chat/upload", rateLimitMiddleware(uploadLimiter), s.UploadFile)
		protected.POST("/admin/conversations/:id/close", s.CloseConversation)

		// Dashboard
		protected.GET("/admin/dashboard/statistics", s.DashboardStats)
		protected.GET("/admin/users", s.GetUsers)
		protected.PATCH("/admin/users/:id/status", s.UpdateUserStatus)
		protected.GET("/admin/featured-lists", s.GetFeaturedLists)
	}

	// End-user side of the chat, driven by hand during development
	dev := router.Group("/dev")
	{
		dev.POST("/conversations", s.SimulateConversation)
		dev.POST("/conversations/:id/messages", s.SimulateUserMessage)
		dev.POST("/conversations/:id/typing", s.SimulateUserTyping)
	}

	router.Static("/files", s.cfg.FileStoragePath)

	router.GET("/ws", authMiddleware(s.issuer), s.hub.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.Clients()})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": __("not found")})
	})

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	addr := fmt.Sprintf("0.0.0.0:%s", s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting dev backend on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
