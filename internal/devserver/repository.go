package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/4xmen/cineadmin/internal/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrInvalidMessage     = errors.New("invalid message")
)

// Repository is the dev backend's chat data in SQLite.
type Repository struct {
	db    *sql.DB
	admin models.AdminSummary
}

func NewRepository(db *sql.DB, admin models.AdminSummary) *Repository {
	return &Repository{db: db, admin: admin}
}

func (r *Repository) CreateUser(ctx context.Context, u models.UserSummary) (models.UserSummary, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO chat_users (id, display_name, email, avatar_url, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.DisplayName, u.Email, u.AvatarURL, time.Now().UTC(),
	)
	if err != nil {
		return u, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (r *Repository) CreateConversation(ctx context.Context, userID string) (models.Conversation, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO conversations (id, user_id, status, last_message_at, created_at) VALUES (?, ?, ?, ?, ?)",
		id, userID, models.StatusOpen, now, now,
	)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return r.Conversation(ctx, id)
}

const conversationColumns = `
	c.id, c.user_id, c.status, c.last_message_at, c.created_at,
	u.display_name, u.email, u.avatar_url`

func scanConversation(row interface{ Scan(...any) error }) (models.Conversation, error) {
	var conv models.Conversation
	var avatar sql.NullString
	err := row.Scan(
		&conv.ID, &conv.UserID, &conv.Status, &conv.LastMessageAt, &conv.CreatedAt,
		&conv.User.DisplayName, &conv.User.Email, &avatar,
	)
	if err != nil {
		return conv, err
	}
	conv.User.ID = conv.UserID
	if avatar.Valid {
		conv.User.AvatarURL = &avatar.String
	}
	return conv, nil
}

func (r *Repository) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+`
		FROM conversations c JOIN chat_users u ON u.id = c.user_id
		WHERE c.id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return conv, ErrNotFound
	}
	if err != nil {
		return conv, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, nil
}

// Conversations lists conversations most recent first, each with its full
// history embedded. An empty status lists all of them.
func (r *Repository) Conversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations c JOIN chat_users u ON u.id = c.user_id`
	var args []any
	if status != "" {
		query += " WHERE c.status = ?"
		args = append(args, status)
	}
	query += " ORDER BY c.last_message_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	conversations := []models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// histories are loaded after the cursor is closed; an in-memory database
	// has a single connection
	for i := range conversations {
		msgs, err := r.Messages(ctx, conversations[i].ID)
		if err != nil {
			return nil, err
		}
		conversations[i].Messages = msgs
	}
	return conversations, nil
}

func (r *Repository) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.user_id, m.admin_id, m.sender_type, m.content,
		       m.attachments, m.is_read, m.created_at, u.display_name, u.avatar_url
		FROM messages m
		LEFT JOIN chat_users u ON u.id = m.user_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			msg                 models.Message
			userID, adminID     sql.NullString
			attachments         sql.NullString
			displayName, avatar sql.NullString
		)
		err := rows.Scan(&msg.ID, &msg.ConversationID, &userID, &adminID, &msg.SenderType, &msg.Content,
			&attachments, &msg.IsRead, &msg.CreatedAt, &displayName, &avatar)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if userID.Valid {
			msg.UserID = &userID.String
			msg.User = &models.UserSummary{ID: userID.String, DisplayName: displayName.String}
			if avatar.Valid {
				msg.User.AvatarURL = &avatar.String
			}
		}
		if adminID.Valid {
			msg.AdminID = &adminID.String
			admin := r.admin
			msg.Admin = &admin
		}
		msg.Attachments = encodedAttachment(attachments)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// encodedAttachment reproduces the production backend, which sends the
// attachment column as a JSON string rather than an object.
func encodedAttachment(col sql.NullString) models.RawAttachment {
	if !col.Valid || col.String == "" {
		return nil
	}
	data, _ := json.Marshal(col.String)
	return models.RawAttachment(data)
}

// AddMessage stores msg, bumps the conversation's activity time and returns
// the message as clients will see it.
func (r *Repository) AddMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	conv, err := r.Conversation(ctx, msg.ConversationID)
	if err != nil {
		return msg, err
	}
	if conv.Status == models.StatusClosed {
		return msg, ErrConversationClosed
	}

	msg.Content = strings.TrimSpace(msg.Content)
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	msg.IsRead = msg.SenderType == models.SenderAdmin

	var attachments sql.NullString
	if a, _ := msg.Attachments.Decode(); a != nil {
		data, _ := json.Marshal(a)
		attachments = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, admin_id, sender_type, content, attachments, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, msg.AdminID, msg.SenderType, msg.Content, attachments, msg.IsRead, msg.CreatedAt)
	if err != nil {
		return msg, fmt.Errorf("failed to save message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET last_message_at = ? WHERE id = ?", msg.CreatedAt, msg.ConversationID); err != nil {
		return msg, fmt.Errorf("failed to touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return msg, err
	}

	msg.Attachments = encodedAttachment(attachments)
	switch msg.SenderType {
	case models.SenderUser:
		user := conv.User
		msg.User = &user
	case models.SenderAdmin:
		admin := r.admin
		msg.Admin = &admin
	}
	return msg, nil
}

func (r *Repository) MarkRead(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND sender_type = ? AND is_read = 0",
		conversationID, models.SenderUser)
	return err
}

func (r *Repository) CloseConversation(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE conversations SET status = ? WHERE id = ?", models.StatusClosed, id)
	if err != nil {
		return fmt.Errorf("failed to close conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Users(ctx context.Context, q models.UserQuery) (models.UsersPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	where := ""
	var args []any
	if s := strings.TrimSpace(q.Search); s != "" {
		where = " WHERE display_name LIKE ? OR email LIKE ?"
		args = append(args, "%"+s+"%", "%"+s+"%")
	}

	page := models.UsersPage{Data: []models.User{}, Meta: models.PageMeta{Page: q.Page, Limit: q.Limit}}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_users"+where, args...).Scan(&page.Meta.Total); err != nil {
		return page, fmt.Errorf("failed to count users: %w", err)
	}
	page.Meta.TotalPages = (page.Meta.Total + q.Limit - 1) / q.Limit

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, email, display_name, avatar_url, is_active, created_at FROM chat_users"+where+
			" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, q.Limit, (q.Page-1)*q.Limit)...)
	if err != nil {
		return page, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		var name, avatar sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &name, &avatar, &u.IsActive, &u.CreatedAt); err != nil {
			return page, fmt.Errorf("failed to scan user: %w", err)
		}
		if name.Valid {
			u.DisplayName = &name.String
		}
		if avatar.Valid {
			u.AvatarURL = &avatar.String
		}
		page.Data = append(page.Data, u)
	}
	return page, rows.Err()
}

func (r *Repository) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE chat_users SET is_active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Stats(ctx context.Context) (models.DashboardStats, error) {
	stats := models.DashboardStats{RecentUsers: []models.RecentUser{}}
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM chat_users").Scan(&stats.TotalUsers, &stats.ActiveUsers)
	if err != nil {
		return stats, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, email, display_name, created_at FROM chat_users ORDER BY created_at DESC LIMIT 5")
	if err != nil {
		return stats, fmt.Errorf("failed to list recent users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u models.RecentUser
		var name sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &name, &u.CreatedAt); err != nil {
			return stats, err
		}
		if name.Valid {
			u.DisplayName = &name.String
		}
		stats.RecentUsers = append(stats.RecentUsers, u)
	}
	return stats, rows.Err()
}
