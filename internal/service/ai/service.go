// Package ai implements the bridge backend on top of an Ark chat model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/gpt-bridge/backend/internal/config"
	"github.com/zhouzirui/gpt-bridge/backend/internal/logger"
	"github.com/zhouzirui/gpt-bridge/backend/internal/model/catalog"
	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/gpt-bridge/backend/internal/service/chat"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrNothingToRetry = errors.New("nothing to retry")
	ErrChatIDRequired = errors.New("chat id is required")
)

// ModelFactory builds the chat model for a new session.
type ModelFactory func(ctx context.Context) (model.BaseChatModel, error)

// Service encapsulates AI-powered chat functionality
type Service struct {
	newModel      ModelFactory
	conversations *chatservice.Service
	catalog       catalog.Store
	cfg           config.AIConfig
	log           logger.Logger

	// opMu 串行化对话操作，保证历史记录顺序
	opMu sync.Mutex

	mu   sync.Mutex
	sess *session
}

// Option customizes a Service.
type Option func(*Service)

// WithModelFactory replaces the Ark model constructor.
func WithModelFactory(f ModelFactory) Option {
	return func(s *Service) { s.newModel = f }
}

// WithLogger sets the service's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService creates a new AI service instance
func NewService(cfg config.AIConfig, conversations *chatservice.Service, models catalog.Store, opts ...Option) *Service {
	s := &Service{
		newModel:      cfg.NewChatModel,
		conversations: conversations,
		catalog:       models,
		cfg:           cfg,
		log:           logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type session struct {
	id     string
	svc    *Service
	chain  compose.Runnable[map[string]any, *schema.Message]
	convID string
}

func (h *session) ID() string { return h.id }

// Close 释放会话；若它仍是当前会话则清空
func (h *session) Close() error {
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	if h.svc.sess == h {
		h.svc.sess = nil
	}
	return nil
}

// Start builds the chat model and opens a fresh conversation.
func (s *Service) Start(ctx context.Context) (chat.Handle, error) {
	chatModel, err := s.newModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	conv, err := s.conversations.CreateConversation(ctx, s.cfg.Model)
	if err != nil {
		return nil, err
	}

	h := &session{id: uuid.NewString(), svc: s, chain: runnable, convID: conv.ID}
	s.mu.Lock()
	s.sess = h
	s.mu.Unlock()

	s.log.Info("ark session started", "sessionID", h.id, "model", s.cfg.Model, "chatID", conv.ID)
	return h, nil
}

func (s *Service) current() (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, ErrNotStarted
	}
	return s.sess, nil
}

// Query appends the user turn and generates the assistant answer.
func (s *Service) Query(ctx context.Context, prompt string) (chat.Reply, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	h, err := s.current()
	if err != nil {
		return chat.Reply{}, err
	}

	history, err := s.conversations.LoadTranscript(ctx, h.convID)
	if err != nil {
		return chat.Reply{}, err
	}
	if _, err := s.conversations.AppendMessage(ctx, h.convID, chat.RoleUser, prompt); err != nil {
		return chat.Reply{}, err
	}
	return s.generate(ctx, h, history, prompt)
}

// Retry drops the last answer and regenerates it from the last user turn.
func (s *Service) Retry(ctx context.Context) (chat.Reply, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	h, err := s.current()
	if err != nil {
		return chat.Reply{}, err
	}

	transcript, err := s.conversations.LoadTranscript(ctx, h.convID)
	if err != nil {
		return chat.Reply{}, err
	}
	n := len(transcript)
	for n > 0 && transcript[n-1].Role == chat.RoleAssistant {
		n--
	}
	if n == 0 {
		return chat.Reply{}, ErrNothingToRetry
	}

	if _, err := s.conversations.DropTrailingAssistant(ctx, h.convID); err != nil {
		return chat.Reply{}, err
	}
	last := transcript[n-1]
	return s.generate(ctx, h, transcript[:n-1], last.Content)
}

func (s *Service) generate(ctx context.Context, h *session, history []chat.Message, query string) (chat.Reply, error) {
	started := time.Now()
	response, err := h.chain.Invoke(ctx, map[string]any{
		"system":  s.cfg.SystemPrompt,
		"history": s.buildHistoryMessages(history),
		"query":   query,
	})
	if err != nil {
		return chat.Reply{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	msg, err := s.conversations.AppendMessage(ctx, h.convID, chat.RoleAssistant, content)
	if err != nil {
		return chat.Reply{}, err
	}

	conv, _ := s.conversations.GetConversation(ctx, h.convID)
	s.log.Debug("ark reply generated", "chatID", h.convID, "length", len(content), "elapsed", time.Since(started).String())
	return chat.Reply{
		ID:        msg.ID,
		ChatID:    h.convID,
		Content:   content,
		Model:     conv.Model,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// buildHistoryMessages keeps the most recent HistoryLimit turns.
func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	limit := s.cfg.HistoryLimit
	if limit < 1 {
		limit = 1
	}
	startIdx := 0
	if len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

// NewChat opens an empty conversation and makes it current.
func (s *Service) NewChat(ctx context.Context) (chat.ChatRef, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	h, err := s.current()
	if err != nil {
		return chat.ChatRef{}, err
	}

	conv, err := s.conversations.CreateConversation(ctx, s.cfg.Model)
	if err != nil {
		return chat.ChatRef{}, err
	}
	h.convID = conv.ID
	return chat.ChatRef{ID: conv.ID, Title: conv.Title}, nil
}

// SelectChat switches to an existing conversation.
func (s *Service) SelectChat(ctx context.Context, chatID *string) (chat.ChatRef, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	h, err := s.current()
	if err != nil {
		return chat.ChatRef{}, err
	}
	if chatID == nil || strings.TrimSpace(*chatID) == "" {
		return chat.ChatRef{}, ErrChatIDRequired
	}

	conv, err := s.conversations.GetConversation(ctx, strings.TrimSpace(*chatID))
	if err != nil {
		return chat.ChatRef{}, err
	}
	h.convID = conv.ID
	return chat.ChatRef{ID: conv.ID, Title: conv.Title}, nil
}

// ChatList lists every conversation, oldest first.
func (s *Service) ChatList(ctx context.Context) ([]chat.Chat, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	h, err := s.current()
	if err != nil {
		return nil, err
	}

	convs := s.conversations.ListConversations(ctx)
	chats := make([]chat.Chat, 0, len(convs))
	for _, conv := range convs {
		chats = append(chats, chat.Chat{
			ID:     conv.ID,
			Title:  conv.Title,
			Active: conv.ID == h.convID,
		})
	}
	return chats, nil
}

// ModelList returns the configured model catalog.
func (s *Service) ModelList(_ context.Context) ([]chat.Model, error) {
	if _, err := s.current(); err != nil {
		return nil, err
	}
	return s.catalog.List(), nil
}
