package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/cineadmin/internal/models"
)

const testToken = "token-123"

type tokenVar struct{ v string }

func (t *tokenVar) Token() string { return t.v }

func requireBearer(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+testToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.POST("/admin/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": []string{"email must be an email", "password should not be empty"}})
			return
		}
		if req.Email != "admin@example.com" || req.Password != "admin123" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid email or password"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": testToken})
	})

	authed := r.Group("/", requireBearer)
	authed.GET("/admin/auth/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": "a1", "email": "admin@example.com", "full_name": "Mai"})
	})
	authed.GET("/chat/admin/conversations", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{{
			"id": "c1", "userId": "u1", "status": c.DefaultQuery("status", "OPEN"),
			"lastMessageAt": "2026-01-01T10:00:00Z", "createdAt": "2026-01-01T09:00:00Z",
			"user": gin.H{"id": "u1", "display_name": "Lan", "email": "lan@example.com"},
		}})
	})
	authed.GET("/chat/admin/conversations/:id/messages", func(c *gin.Context) {
		if c.Param("id") != "c1" {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusOK, []gin.H{{
			"id": "m1", "conversationId": "c1", "userId": "u1", "senderType": "USER",
			"content": "", "isRead": false, "createdAt": "2026-01-01T10:00:00Z",
			"attachments": `{"type":"image","url":"/files/a.png","fileName":"a.png","fileSize":12}`,
		}})
	})
	authed.POST("/chat/upload", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"type": "file", "url": "/files/" + file.Filename, "fileName": file.Filename, "fileSize": file.Size})
	})
	authed.POST("/admin/conversations/:id/close", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	authed.GET("/admin/dashboard/statistics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"totalUsers": 10, "activeUsers": 7, "recentUsers": []gin.H{}})
	})
	authed.GET("/admin/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"data": []gin.H{{"id": "u1", "email": "lan@example.com", "is_active": true, "created_at": "2026-01-01T09:00:00Z"}},
			"meta": gin.H{"total": 1, "page": 1, "limit": 20, "totalPages": 1, "search": c.Query("search")},
		})
	})
	authed.PATCH("/admin/users/:id/status", func(c *gin.Context) {
		var body struct {
			IsActive *bool `json:"isActive"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.IsActive == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "is_active": *body.IsActive})
	})
	authed.GET("/admin/featured-lists", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{{"id": "f1", "title": "Top", "is_published": true, "_count": gin.H{"movies": 3}}})
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestLogin(t *testing.T) {
	server := newBackend(t)
	client := New(server.URL, &tokenVar{})

	token, admin, err := client.Login(context.Background(), "admin@example.com", "admin123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token != testToken {
		t.Errorf("token = %q", token)
	}
	if admin.ID != "a1" || admin.Name() != "Mai" {
		t.Errorf("unexpected admin %+v", admin)
	}
}

func TestLoginFailureSkipsUnauthorizedHook(t *testing.T) {
	server := newBackend(t)
	client := New(server.URL, &tokenVar{v: "stale"})
	var hooked atomic.Int32
	client.OnUnauthorized(func() { hooked.Add(1) })

	_, _, err := client.Login(context.Background(), "admin@example.com", "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if hooked.Load() != 0 {
		t.Error("failed login must not trigger the unauthorized hook")
	}
}

func TestValidationMessagesAreJoined(t *testing.T) {
	server := newBackend(t)
	client := New(server.URL, nil)

	_, _, err := client.Login(context.Background(), "", "")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 api error, got %v", err)
	}
	if apiErr.Message != "email must be an email; password should not be empty" {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
}

func TestUnauthorizedRunsHook(t *testing.T) {
	server := newBackend(t)
	tokens := &tokenVar{v: "expired"}
	client := New(server.URL, tokens)
	var hooked atomic.Int32
	client.OnUnauthorized(func() { hooked.Add(1) })

	_, err := client.Conversations(context.Background(), models.StatusOpen)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if hooked.Load() != 1 {
		t.Errorf("expected hook to run once, ran %d times", hooked.Load())
	}
}

func TestConversationsAndMessages(t *testing.T) {
	server := newBackend(t)
	client := New(server.URL, &tokenVar{v: testToken})
	ctx := context.Background()

	convs, err := client.Conversations(ctx, models.StatusClosed)
	if err != nil {
		t.Fatalf("Conversations failed: %v", err)
	}
	if len(convs) != 1 || convs[0].Status != models.StatusClosed || convs[0].User.DisplayName != "Lan" {
		t.Fatalf("unexpected conversations %+v", convs)
	}

	msgs, err := client.ConversationMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ConversationMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	att, err := msgs[0].Attachments.Decode()
	if err != nil || att == nil || att.Type != models.AttachmentImage || att.FileName != "a.png" {
		t.Errorf("unexpected attachment %+v (%v)", att, err)
	}

	_, err = client.ConversationMessages(ctx, "missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "conversation not found" {
		t.Errorf("expected 404 api error, got %v", err)
	}
}

func TestUploadChatFile(t *testing.T) {
	server := newBackend(t)
	client := New(server.URL, &tokenVar{v: testToken})

	uploaded, err := client.UploadChatFile(context.Background(), "notes.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("UploadChatFile failed: %v", err)
	}
	if uploaded.FileName != "notes.txt" || uploaded.FileSize != 5 || uploaded.URL != "/files/notes.txt" {
		t.Errorf("unexpected upload %+v", uploaded)
	}
}

func TestAdminResources(t *testing.T) {
	server := newBackend(t)
	client := New(server.URL, &tokenVar{v: testToken})
	ctx := context.Background()

	if err := client.CloseConversation(ctx, "c1"); err != nil {
		t.Errorf("CloseConversation failed: %v", err)
	}

	stats, err := client.DashboardStats(ctx)
	if err != nil || stats.TotalUsers != 10 || stats.ActiveUsers != 7 {
		t.Errorf("unexpected stats %+v (%v)", stats, err)
	}

	page, err := client.Users(ctx, models.UserQuery{Page: 1, Limit: 20, Search: "lan"})
	if err != nil || len(page.Data) != 1 || !page.Data[0].IsActive || page.Meta.Total != 1 {
		t.Errorf("unexpected users %+v (%v)", page, err)
	}

	if err := client.UpdateUserStatus(ctx, "u1", false); err != nil {
		t.Errorf("UpdateUserStatus failed: %v", err)
	}

	lists, err := client.FeaturedLists(ctx)
	if err != nil || len(lists) != 1 || lists[0].Count.Movies != 3 {
		t.Errorf("unexpected featured lists %+v (%v)", lists, err)
	}

	me, err := client.Me(ctx)
	if err != nil || me.Email != "admin@example.com" {
		t.Errorf("unexpected profile %+v (%v)", me, err)
	}
}

func TestErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down")
	}))
	defer server.Close()

	_, err := New(server.URL, nil).DashboardStats(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 api error, got %v", err)
	}
	if apiErr.Error() != "api: 502 Bad Gateway" {
		t.Errorf("unexpected message %q", apiErr.Error())
	}
}
