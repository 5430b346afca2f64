// Package browser drives a chat web UI in a Chromium tab over the DevTools
// protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/gpt-bridge/backend/internal/logger"
	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
)

var (
	ErrNotStarted     = errors.New("browser not started")
	ErrChatIDRequired = errors.New("chat id is required")
	ErrNothingToRetry = errors.New("nothing to retry")
	ErrReplyTimeout   = errors.New("timed out waiting for reply")
)

// Backend drives one tab at a time. Page operations are serialized.
type Backend struct {
	cfg  Config
	open Opener
	log  logger.Logger
	now  func() time.Time

	opMu sync.Mutex

	mu   sync.Mutex
	page Page
}

// Option customizes a Backend.
type Option func(*Backend)

// WithOpener replaces the DevTools tab opener.
func WithOpener(open Opener) Option {
	return func(b *Backend) { b.open = open }
}

// WithLogger sets the backend's logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New creates a browser backend.
func New(cfg Config, opts ...Option) *Backend {
	b := &Backend{
		cfg:  cfg,
		open: OpenDevTools,
		log:  logger.NewNop(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// session 对应一个已打开的标签页
type session struct {
	id   string
	b    *Backend
	page Page
	once sync.Once
	err  error
}

func (s *session) ID() string { return s.id }

// Close 关闭标签页；若它仍是活动页则清空
func (s *session) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		if s.b.page == s.page {
			s.b.page = nil
		}
		s.b.mu.Unlock()
		s.err = s.page.Close()
	})
	return s.err
}

// Start opens a new tab on the chat UI and makes it the active page.
func (b *Backend) Start(ctx context.Context) (chat.Handle, error) {
	p, err := b.open(ctx, b.cfg)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.page = p
	b.mu.Unlock()

	s := &session{id: uuid.NewString(), b: b, page: p}
	b.log.Info("browser tab opened", "sessionID", s.id, "url", b.cfg.ChatURL)
	return s, nil
}

func (b *Backend) current() (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return nil, ErrNotStarted
	}
	return b.page, nil
}

// run evaluates s and converts a falsy "ok" into an error.
func (b *Backend) run(ctx context.Context, p Page, s Script) (gjson.Result, error) {
	res, err := p.Evaluate(ctx, s)
	if err != nil {
		return gjson.Result{}, err
	}
	if !res.Get("ok").Bool() {
		msg := res.Get("error").String()
		if msg == "" {
			msg = fmt.Sprintf("%s failed", s.Name)
		}
		return res, errors.New(msg)
	}
	return res, nil
}

type pageStatus struct {
	count  int64
	busy   bool
	lastID string
}

func (b *Backend) status(ctx context.Context, p Page) (pageStatus, error) {
	res, err := b.run(ctx, p, newScript(scriptStatus,
		"assistant", b.cfg.Selectors.AssistantMessage,
		"stop", b.cfg.Selectors.StopButton,
	))
	if err != nil {
		return pageStatus{}, err
	}
	return pageStatus{
		count:  res.Get("count").Int(),
		busy:   res.Get("busy").Bool(),
		lastID: res.Get("lastId").String(),
	}, nil
}

// Query types prompt into the chat input, sends it and waits for the answer.
func (b *Backend) Query(ctx context.Context, prompt string) (chat.Reply, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	p, err := b.current()
	if err != nil {
		return chat.Reply{}, err
	}

	before, err := b.status(ctx, p)
	if err != nil {
		return chat.Reply{}, err
	}

	sel := b.cfg.Selectors
	if _, err := b.run(ctx, p, newScript(scriptFill, "selector", sel.PromptInput, "text", prompt)); err != nil {
		return chat.Reply{}, err
	}
	if _, err := b.run(ctx, p, newScript(scriptClick, "selector", sel.SendButton, "missing", "send button not found")); err != nil {
		return chat.Reply{}, err
	}

	return b.awaitReply(ctx, p, func(st pageStatus) bool {
		return st.count > before.count
	})
}

// Retry regenerates the last assistant answer.
func (b *Backend) Retry(ctx context.Context) (chat.Reply, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	p, err := b.current()
	if err != nil {
		return chat.Reply{}, err
	}

	before, err := b.status(ctx, p)
	if err != nil {
		return chat.Reply{}, err
	}
	if before.count == 0 {
		return chat.Reply{}, ErrNothingToRetry
	}

	if _, err := b.run(ctx, p, newScript(scriptClick,
		"selector", b.cfg.Selectors.RegenerateButton,
		"last", true,
		"missing", "regenerate button not found",
	)); err != nil {
		return chat.Reply{}, err
	}

	return b.awaitReply(ctx, p, func(st pageStatus) bool {
		return st.count > before.count || (st.count > 0 && st.lastID != before.lastID)
	})
}

// awaitReply polls the page until arrived reports the new answer is present
// and generation has stopped, then reads the last assistant message.
func (b *Backend) awaitReply(ctx context.Context, p Page, arrived func(pageStatus) bool) (chat.Reply, error) {
	if b.cfg.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.ReplyTimeout)
		defer cancel()
	}

	interval := b.cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := b.status(ctx, p)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return chat.Reply{}, ErrReplyTimeout
			}
			if ctx.Err() != nil {
				return chat.Reply{}, ctx.Err()
			}
			return chat.Reply{}, err
		}
		if arrived(st) && !st.busy {
			break
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return chat.Reply{}, ErrReplyTimeout
			}
			return chat.Reply{}, ctx.Err()
		case <-ticker.C:
		}
	}

	return b.lastReply(ctx, p)
}

func (b *Backend) lastReply(ctx context.Context, p Page) (chat.Reply, error) {
	res, err := b.run(ctx, p, newScript(scriptLastMessage, "assistant", b.cfg.Selectors.AssistantMessage))
	if err != nil {
		return chat.Reply{}, err
	}

	content, inner, code, err := parseReply(res.Get("html").String())
	if err != nil {
		return chat.Reply{}, fmt.Errorf("parse reply: %w", err)
	}

	return chat.Reply{
		ID:         res.Get("id").String(),
		ChatID:     chatIDFromURL(res.Get("href").String()),
		Content:    content,
		HTML:       inner,
		CodeBlocks: code,
		Model:      res.Get("model").String(),
		CreatedAt:  b.now(),
	}, nil
}

// NewChat opens a fresh conversation, falling back to loading the chat URL
// when the new-chat control is missing.
func (b *Backend) NewChat(ctx context.Context) (chat.ChatRef, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	p, err := b.current()
	if err != nil {
		return chat.ChatRef{}, err
	}

	if _, err := b.run(ctx, p, newScript(scriptClick,
		"selector", b.cfg.Selectors.NewChatButton,
		"missing", "new chat button not found",
	)); err != nil {
		b.log.Warn("new chat button unavailable, reloading chat page", "error", err.Error())
		if err := p.Navigate(ctx, b.cfg.ChatURL); err != nil {
			return chat.ChatRef{}, err
		}
	}

	res, err := b.run(ctx, p, newScript(scriptLocation))
	if err != nil {
		return chat.ChatRef{}, err
	}
	href := res.Get("href").String()
	return chat.ChatRef{ID: chatIDFromURL(href), URL: href}, nil
}

// SelectChat loads the conversation with the given id.
func (b *Backend) SelectChat(ctx context.Context, chatID *string) (chat.ChatRef, error) {
	if chatID == nil || strings.TrimSpace(*chatID) == "" {
		return chat.ChatRef{}, ErrChatIDRequired
	}

	b.opMu.Lock()
	defer b.opMu.Unlock()

	p, err := b.current()
	if err != nil {
		return chat.ChatRef{}, err
	}

	id := strings.TrimSpace(*chatID)
	target := strings.TrimRight(b.cfg.ChatURL, "/") + "/c/" + url.PathEscape(id)
	if err := p.Navigate(ctx, target); err != nil {
		return chat.ChatRef{}, err
	}
	return chat.ChatRef{ID: id, URL: target}, nil
}

// ChatList returns the sidebar's conversations in display order.
func (b *Backend) ChatList(ctx context.Context) ([]chat.Chat, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	p, err := b.current()
	if err != nil {
		return nil, err
	}

	res, err := b.run(ctx, p, newScript(scriptOuterHTML,
		"selector", b.cfg.Selectors.Sidebar,
		"missing", "sidebar not found",
	))
	if err != nil {
		return nil, err
	}

	href := res.Get("href").String()
	base := href
	if base == "" {
		base = b.cfg.ChatURL
	}
	return parseChatList(res.Get("html").String(), b.cfg.Selectors.ChatLink, base, href)
}

// ModelList returns the models offered by the model picker.
func (b *Backend) ModelList(ctx context.Context) ([]chat.Model, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	p, err := b.current()
	if err != nil {
		return nil, err
	}

	res, err := b.run(ctx, p, newScript(scriptModelMenu,
		"menu", b.cfg.Selectors.ModelMenu,
		"switcher", b.cfg.Selectors.ModelSwitcher,
	))
	if err != nil {
		return nil, err
	}
	return parseModelMenu(res.Get("html").String(), b.cfg.Selectors.ModelItem)
}
