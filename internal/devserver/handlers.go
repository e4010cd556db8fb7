package devserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/4xmen/cineadmin/internal/auth"
	"github.com/4xmen/cineadmin/internal/db"
	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/ws"
)

const featuredListsNamespace = "dev-featured-lists"

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login authenticates the dev admin and returns an access token
func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	if !strings.EqualFold(req.Email, s.admin.Email) || !auth.CheckPassword(s.adminHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("invalid email or password")})
		return
	}

	token, err := s.issuer.GenerateToken(s.admin.ID, s.admin.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{AccessToken: token})
}

func (s *Server) Me(c *gin.Context) {
	if c.GetString("admin_id") != s.admin.ID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": __("unauthorized")})
		return
	}
	c.JSON(http.StatusOK, s.admin)
}

// GetConversations lists conversations, optionally filtered by ?status=
func (s *Server) GetConversations(c *gin.Context) {
	var status models.ConversationStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
			return
		}
		status = parsed
	}

	conversations, err := s.repo.Conversations(c.Request.Context(), status)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to fetch conversations")})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// GetConversationMessages returns the thread and marks the user's messages read
func (s *Server) GetConversationMessages(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.repo.Conversation(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": __("conversation not found")})
			return
		}
		s.repoError(c, err, "failed to fetch messages")
		return
	}

	messages, err := s.repo.Messages(ctx, id)
	if err != nil {
		s.repoError(c, err, "failed to fetch messages")
		return
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		log.Printf("failed to mark conversation %s read: %v", id, err)
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) CloseConversation(c *gin.Context) {
	if err := s.repo.CloseConversation(c.Request.Context(), c.Param("id")); err != nil {
		s.repoError(c, err, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": models.StatusClosed})
}

// UploadFile stores a chat attachment and returns its descriptor
func (s *Server) UploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("file is required")})
		return
	}
	if file.Size > s.cfg.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": __("file too large")})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}
	mtype, err := mimetype.DetectReader(src)
	src.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	kind := models.AttachmentFile
	if strings.HasPrefix(mtype.String(), "image/") {
		kind = models.AttachmentImage
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(file.Filename)))
	if err := c.SaveUploadedFile(file, filepath.Join(s.cfg.FileStoragePath, name)); err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("failed to save file")})
		return
	}

	c.JSON(http.StatusCreated, models.UploadedFile{
		Type:     kind,
		URL:      "/files/" + name,
		FileName: filepath.Base(file.Filename),
		FileSize: file.Size,
	})
}

func (s *Server) DashboardStats(c *gin.Context) {
	stats, err := s.repo.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) GetUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	users, err := s.repo.Users(c.Request.Context(), models.UserQuery{Page: page, Limit: limit, Search: c.Query("search")})
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) UpdateUserStatus(c *gin.Context) {
	var req struct {
		IsActive *bool `json:"isActive" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}
	if err := s.repo.SetUserActive(c.Request.Context(), c.Param("id"), *req.IsActive); err != nil {
		s.repoError(c, err, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "is_active": *req.IsActive})
}

// GetFeaturedLists serves the lists kept in the key/value table
func (s *Server) GetFeaturedLists(c *gin.Context) {
	lists := []models.FeaturedList{}
	raw, err := s.kv.Get(featuredListsNamespace)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
		return
	default:
		if err := json.Unmarshal([]byte(raw), &lists); err != nil {
			c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": __("internal server error")})
			return
		}
	}
	c.JSON(http.StatusOK, lists)
}

type simulatedMessage struct {
	Content     string             `json:"content"`
	Attachments *models.Attachment `json:"attachments"`
}

// SimulateUserMessage posts a message as the conversation's end user
func (s *Server) SimulateUserMessage(c *gin.Context) {
	var req simulatedMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	ctx := c.Request.Context()
	conv, err := s.repo.Conversation(ctx, c.Param("id"))
	if err != nil {
		s.repoError(c, err, "internal server error")
		return
	}

	userID := conv.UserID
	msg, err := s.repo.AddMessage(ctx, models.Message{
		ConversationID: conv.ID,
		UserID:         &userID,
		SenderType:     models.SenderUser,
		Content:        req.Content,
		Attachments:    models.NewRawAttachment(req.Attachments),
	})
	if err != nil {
		s.repoError(c, err, "internal server error")
		return
	}

	s.hub.Broadcast(ws.EventNewMessage, msg)
	c.JSON(http.StatusCreated, msg)
}

// SimulateUserTyping sends the end user's typing signal to the admins
func (s *Server) SimulateUserTyping(c *gin.Context) {
	var req struct {
		IsTyping bool `json:"isTyping"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	conv, err := s.repo.Conversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.repoError(c, err, "internal server error")
		return
	}

	s.hub.Broadcast(ws.EventTyping, models.TypingSignal{
		SenderType:     models.SenderUser,
		ConversationID: conv.ID,
		IsTyping:       req.IsTyping,
		DisplayName:    conv.User.DisplayName,
	})
	c.Status(http.StatusAccepted)
}

type newConversation struct {
	DisplayName string `json:"display_name" binding:"required"`
	Email       string `json:"email"`
}

// SimulateConversation opens a conversation for a new end user
func (s *Server) SimulateConversation(c *gin.Context) {
	var req newConversation
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
		return
	}

	ctx := c.Request.Context()
	user, err := s.repo.CreateUser(ctx, models.UserSummary{DisplayName: req.DisplayName, Email: req.Email})
	if err != nil {
		s.repoError(c, err, "internal server error")
		return
	}
	conv, err := s.repo.CreateConversation(ctx, user.ID)
	if err != nil {
		s.repoError(c, err, "internal server error")
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) repoError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": __("not found")})
	case errors.Is(err, ErrConversationClosed):
		c.JSON(http.StatusConflict, gin.H{"error": __("conversation is closed")})
	case errors.Is(err, ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": __("invalid request")})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": __(fallback)})
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
