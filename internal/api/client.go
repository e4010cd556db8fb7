// Package api is the REST client for the admin backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/observability"
)

var ErrUnauthorized = errors.New("unauthorized")

// Error is a non-2xx response from the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token() string
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *slog.Logger

	mu             sync.Mutex
	onUnauthorized func()
}

func New(baseURL string, tokens TokenSource) *Client {
	if tokens == nil {
		tokens = staticToken("")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		log:     observability.WithFields("component", "api"),
	}
}

// OnUnauthorized sets the hook run whenever the backend answers 401.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

func (c *Client) unauthorized() {
	c.mu.Lock()
	fn := c.onUnauthorized
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) Conversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error) {
	path := "/chat/admin/conversations"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []models.Conversation
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out []models.Message
	path := "/chat/admin/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CloseConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/admin/conversations/"+url.PathEscape(conversationID)+"/close", nil, "", nil)
}

// UploadChatFile posts r as the multipart field "file".
func (c *Client) UploadChatFile(ctx context.Context, fileName string, r io.Reader) (*models.UploadedFile, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out models.UploadedFile
	if err := c.do(ctx, http.MethodPost, "/chat/upload", &body, w.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login exchanges credentials for an access token and fetches the profile
// with it.
func (c *Client) Login(ctx context.Context, email, password string) (string, *models.Admin, error) {
	data, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return "", nil, err
	}
	var resp loginResponse
	err = c.send(ctx, call{
		method:      http.MethodPost,
		path:        "/admin/auth/login",
		body:        bytes.NewReader(data),
		contentType: "application/json",
		out:         &resp,
		anonymous:   true,
	})
	if err != nil {
		return "", nil, err
	}
	if resp.AccessToken == "" {
		return "", nil, errors.New("login response carried no access token")
	}

	var admin models.Admin
	if err := c.doJSON(ctx, http.MethodGet, "/admin/auth/me", nil, &admin, resp.AccessToken); err != nil {
		return "", nil, err
	}
	return resp.AccessToken, &admin, nil
}

func (c *Client) Me(ctx context.Context) (*models.Admin, error) {
	var admin models.Admin
	if err := c.do(ctx, http.MethodGet, "/admin/auth/me", nil, "", &admin); err != nil {
		return nil, err
	}
	return &admin, nil
}

func (c *Client) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	if err := c.do(ctx, http.MethodGet, "/admin/dashboard/statistics", nil, "", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) Users(ctx context.Context, q models.UserQuery) (*models.UsersPage, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	path := "/admin/users"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page models.UsersPage
	if err := c.do(ctx, http.MethodGet, path, nil, "", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) UpdateUserStatus(ctx context.Context, userID string, active bool) error {
	body := map[string]bool{"isActive": active}
	return c.doJSON(ctx, http.MethodPatch, "/admin/users/"+url.PathEscape(userID)+"/status", body, nil, "")
}

func (c *Client) FeaturedLists(ctx context.Context) ([]models.FeaturedList, error) {
	var lists []models.FeaturedList
	if err := c.do(ctx, http.MethodGet, "/admin/featured-lists", nil, "", &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

type call struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	out         any
	// token overrides the stored credential. Calls made with an explicit
	// token, or anonymously, never run the unauthorized hook.
	token     string
	anonymous bool
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, token string) error {
	cl := call{method: method, path: path, out: out, token: token}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		cl.body = bytes.NewReader(data)
		cl.contentType = "application/json"
	}
	return c.send(ctx, cl)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	return c.send(ctx, call{method: method, path: path, body: body, contentType: contentType, out: out})
}

func (c *Client) send(ctx context.Context, cl call) error {
	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, cl.body)
	if err != nil {
		return err
	}
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	req.Header.Set("Accept", "application/json")
	token := cl.token
	if token == "" && !cl.anonymous {
		token = c.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Warn("request unauthorized", "method", cl.method, "path", cl.path)
		if cl.token == "" && !cl.anonymous {
			c.unauthorized()
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if cl.out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", cl.method, cl.path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Error   string `json:"error"`
		Message any    `json:"message"`
	}
	apiErr := &Error{Status: resp.StatusCode}
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Error != "":
			apiErr.Message = body.Error
		case body.Message != nil:
			apiErr.Message = messageText(body.Message)
		}
	}
	return apiErr
}

// messageText flattens a message field that may be a string or a list of
// validation strings.
func messageText(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Sprint(v)
}
