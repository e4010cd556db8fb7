package chat

import (
	"context"
	"log/slog"

	"github.com/4xmen/cineadmin/internal/models"
	"github.com/4xmen/cineadmin/internal/observability"
)

// Fetcher is the slice of the REST client the loader needs.
type Fetcher interface {
	Conversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error)
	ConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Loader fills the store from the backend. Fetch failures are logged and
// leave an empty list or thread behind so navigation keeps working.
type Loader struct {
	store *Store
	api   Fetcher
	log   *slog.Logger
}

func NewLoader(store *Store, api Fetcher) *Loader {
	return &Loader{store: store, api: api, log: observability.WithFields("component", "chat.loader")}
}

func (l *Loader) RefreshConversations(ctx context.Context, status models.ConversationStatus) error {
	conversations, err := l.api.Conversations(ctx, status)
	if err != nil {
		l.log.Error("failed to load conversations", "status", status, "error", err)
		l.store.SetConversations(nil)
		return err
	}
	l.store.SetConversations(conversations)
	return nil
}

// Open selects the conversation and loads its history. A response that
// arrives after the admin has moved on to another conversation is dropped.
func (l *Loader) Open(ctx context.Context, conversationID string) error {
	gen := l.store.Select(conversationID)
	if conversationID == "" {
		return nil
	}

	messages, err := l.api.ConversationMessages(ctx, conversationID)
	if err != nil {
		l.log.Error("failed to load messages", "conversation_id", conversationID, "error", err)
		messages = nil
	}

	if !l.store.ApplyHistory(conversationID, gen, messages) {
		l.log.Debug("discarded stale history", "conversation_id", conversationID)
	}
	return err
}
