package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("chat not found")
	ErrEmptyContent         = errors.New("message content is required")
)

const titleLimit = 48

// Service encapsulates conversation state management.
type Service struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	messages      map[string][]chat.Message
	order         []string
	now           func() time.Time
}

// NewService bootstraps the in-memory conversation store.
func NewService() *Service {
	return &Service{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation provisions an empty conversation bound to a model.
func (s *Service) CreateConversation(_ context.Context, model string) (chat.Conversation, error) {
	conv := chat.Conversation{
		ID:        uuid.NewString(),
		Title:     "New chat",
		Model:     model,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = make([]chat.Message, 0, 16)
	s.order = append(s.order, conv.ID)
	s.mu.Unlock()

	return conv, nil
}

// GetConversation retrieves a conversation by identifier.
func (s *Service) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// ListConversations returns every conversation in creation order.
func (s *Service) ListConversations(_ context.Context) []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]chat.Conversation, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.conversations[id])
	}
	return list
}

// AppendMessage adds a turn to the conversation. The first user turn becomes
// the conversation title.
func (s *Service) AppendMessage(_ context.Context, conversationID, role, content string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Message{}, ErrConversationNotFound
	}

	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	if role == chat.RoleUser && len(s.messages[conversationID]) == 1 {
		conv.Title = summarize(content)
		s.conversations[conversationID] = conv
	}
	return msg, nil
}

// DropTrailingAssistant removes assistant turns from the end of the
// conversation and reports how many were removed.
func (s *Service) DropTrailingAssistant(_ context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.messages[conversationID]
	if !ok {
		return 0, ErrConversationNotFound
	}

	n := len(msgs)
	for n > 0 && msgs[n-1].Role == chat.RoleAssistant {
		n--
	}
	removed := len(msgs) - n
	s.messages[conversationID] = msgs[:n]
	return removed, nil
}

// LoadTranscript returns stored messages for the provided conversation.
func (s *Service) LoadTranscript(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func summarize(content string) string {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(content), "\n", 2)[0])
	runes := []rune(line)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit]) + "…"
	}
	return line
}
