// Package chat holds the admin console's chat state: the conversation list,
// the open thread, connection status and typing signals.
package chat

import (
	"slices"
	"sort"
	"sync"

	"github.com/4xmen/cineadmin/internal/models"
)

// Store is the single owner of conversation and message state. Every method
// is atomic; readers get copies.
type Store struct {
	mu            sync.RWMutex
	conversations []models.Conversation
	selectedID    string
	generation    uint64
	connected     bool
	messages      []models.Message
	loading       bool
	typing        map[string]models.TypingSignal

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]func()
}

func NewStore() *Store {
	return &Store{
		typing:      make(map[string]models.TypingSignal),
		subscribers: make(map[int]func()),
	}
}

// Subscribe registers fn to run after every state change. It is called
// outside the store lock and may read from the store.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Store) SetConversations(conversations []models.Conversation) {
	list := make([]models.Conversation, len(conversations))
	for i := range conversations {
		list[i] = cloneConversation(conversations[i])
	}
	sortByActivity(list)

	s.mu.Lock()
	s.conversations = list
	s.mu.Unlock()
	s.notify()
}

// Select makes id the open conversation ("" clears the selection), empties
// the live thread and returns the generation a history fetch for this
// selection must present to ApplyHistory.
func (s *Store) Select(id string) uint64 {
	s.mu.Lock()
	s.selectedID = id
	s.generation++
	gen := s.generation
	s.messages = nil
	s.loading = id != ""
	s.mu.Unlock()
	s.notify()
	return gen
}

func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// SetMessages replaces the live thread. Messages that belong to another
// conversation than the selected one are dropped.
func (s *Store) SetMessages(messages []models.Message) {
	s.mu.Lock()
	s.messages = filterConversation(messages, s.selectedID)
	s.mu.Unlock()
	s.notify()
}

// ApplyHistory commits a fetched message history, but only if convID is
// still selected and no newer selection has happened since gen was issued.
// Messages that arrived live during the fetch and are missing from the
// response are kept after it. It reports whether the history was applied.
func (s *Store) ApplyHistory(convID string, gen uint64, history []models.Message) bool {
	s.mu.Lock()
	if convID == "" || convID != s.selectedID || gen != s.generation {
		s.mu.Unlock()
		return false
	}

	merged := filterConversation(history, convID)
	seen := make(map[string]bool, len(merged))
	for _, m := range merged {
		seen[m.ID] = true
	}
	for _, m := range s.messages {
		if m.ID == "" || !seen[m.ID] {
			merged = append(merged, m)
		}
	}
	s.messages = merged
	s.loading = false
	s.mu.Unlock()
	s.notify()
	return true
}

func (s *Store) SetLoadingMessages(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
	s.notify()
}

// UpdateTyping records the latest typing signal for its conversation.
func (s *Store) UpdateTyping(signal models.TypingSignal) {
	s.mu.Lock()
	s.typing[signal.ConversationID] = signal
	s.mu.Unlock()
	s.notify()
}

// AddMessage appends an inbound message to its conversation's history, bumps
// the conversation's activity time, re-ranks the list most recent first and,
// if the conversation is open, appends to the live thread too.
func (s *Store) AddMessage(msg models.Message) {
	s.mu.Lock()
	for i := range s.conversations {
		conv := &s.conversations[i]
		if conv.ID != msg.ConversationID {
			continue
		}
		conv.Messages = append(conv.Messages, msg)
		if msg.CreatedAt.After(conv.LastMessageAt) {
			conv.LastMessageAt = msg.CreatedAt
		}
	}
	sortByActivity(s.conversations)

	if s.selectedID != "" && msg.ConversationID == s.selectedID {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Conversation, len(s.conversations))
	for i := range s.conversations {
		list[i] = cloneConversation(s.conversations[i])
	}
	return list
}

func (s *Store) Conversation(id string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return cloneConversation(s.conversations[i]), true
		}
	}
	return models.Conversation{}, false
}

// SelectedConversation looks up the open conversation. ok is false when
// nothing is selected or the selection is not in the list.
func (s *Store) SelectedConversation() (models.Conversation, bool) {
	s.mu.RLock()
	id := s.selectedID
	s.mu.RUnlock()
	if id == "" {
		return models.Conversation{}, false
	}
	return s.Conversation(id)
}

func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) LoadingMessages() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) Typing(conversationID string) (models.TypingSignal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.typing[conversationID]
	return sig, ok
}

// UnreadCount counts unread user messages in the conversation's loaded
// history. Unknown conversations count zero.
func (s *Store) UnreadCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.conversations {
		if s.conversations[i].ID != conversationID {
			continue
		}
		n := 0
		for _, m := range s.conversations[i].Messages {
			if m.SenderType == models.SenderUser && !m.IsRead {
				n++
			}
		}
		return n
	}
	return 0
}

func sortByActivity(list []models.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}

func filterConversation(messages []models.Message, convID string) []models.Message {
	out := make([]models.Message, 0, len(messages))
	if convID == "" {
		return out
	}
	for _, m := range messages {
		if m.ConversationID == "" || m.ConversationID == convID {
			out = append(out, m)
		}
	}
	return out
}

func cloneConversation(c models.Conversation) models.Conversation {
	c.Messages = slices.Clone(c.Messages)
	return c
}
