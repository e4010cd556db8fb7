package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/4xmen/cineadmin/internal/models"
)

// Seed fills an empty database with a few conversations and featured lists.
// It does nothing once any conversation exists.
func (s *Server) Seed(ctx context.Context) error {
	var count int
	if err := s.repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&count); err != nil {
		return fmt.Errorf("failed to count conversations: %w", err)
	}
	if count > 0 {
		return nil
	}

	threads := []struct {
		user     models.UserSummary
		messages []string
		closed   bool
	}{
		{user: models.UserSummary{DisplayName: "Minh Anh", Email: "minhanh@example.com"}, messages: []string{"Hi, my ticket did not arrive", "I paid an hour ago"}},
		{user: models.UserSummary{DisplayName: "Tuan Le", Email: "tuan@example.com"}, messages: []string{"Can I change my seat?"}},
		{user: models.UserSummary{DisplayName: "Sarah", Email: "sarah@example.com"}, messages: []string{"Thanks, all sorted"}, closed: true},
	}

	for _, thread := range threads {
		user, err := s.repo.CreateUser(ctx, thread.user)
		if err != nil {
			return err
		}
		conv, err := s.repo.CreateConversation(ctx, user.ID)
		if err != nil {
			return err
		}
		for _, content := range thread.messages {
			userID := user.ID
			if _, err := s.repo.AddMessage(ctx, models.Message{
				ConversationID: conv.ID,
				UserID:         &userID,
				SenderType:     models.SenderUser,
				Content:        content,
			}); err != nil {
				return err
			}
		}
		if thread.closed {
			if err := s.repo.CloseConversation(ctx, conv.ID); err != nil {
				return err
			}
		}
	}

	description := "Weekend picks"
	now := time.Now().UTC()
	lists := []models.FeaturedList{
		{ID: "now-showing", Title: "Now showing", IsPublished: true, CreatedAt: now, UpdatedAt: now, OwnerID: s.admin.ID},
		{ID: "weekend", Title: "Weekend", Description: &description, CreatedAt: now, UpdatedAt: now, OwnerID: s.admin.ID},
	}
	lists[0].Count.Movies = 12
	lists[1].Count.Movies = 4

	data, err := json.Marshal(lists)
	if err != nil {
		return err
	}
	return s.kv.Put(featuredListsNamespace, string(data))
}
