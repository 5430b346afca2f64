// Package bridgetest provides a scripted Backend for tests.
package bridgetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
)

// Handle is a test session handle that remembers whether it was closed.
type Handle struct {
	id       string
	closed   atomic.Bool
	CloseErr error
}

// NewHandle creates a handle with the given id.
func NewHandle(id string) *Handle { return &Handle{id: id} }

func (h *Handle) ID() string { return h.id }

func (h *Handle) Close() error {
	h.closed.Store(true)
	return h.CloseErr
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool { return h.closed.Load() }

// Backend is a scripted bridge.Backend. Each *Func field overrides the default
// behavior; every call is counted.
type Backend struct {
	StartFunc      func(ctx context.Context) (chat.Handle, error)
	QueryFunc      func(ctx context.Context, prompt string) (chat.Reply, error)
	RetryFunc      func(ctx context.Context) (chat.Reply, error)
	NewChatFunc    func(ctx context.Context) (chat.ChatRef, error)
	SelectChatFunc func(ctx context.Context, chatID *string) (chat.ChatRef, error)
	ChatListFunc   func(ctx context.Context) ([]chat.Chat, error)
	ModelListFunc  func(ctx context.Context) ([]chat.Model, error)

	mu      sync.Mutex
	calls   map[string]int
	prompts []string
	chatIDs []*string
	started []*Handle
}

func (b *Backend) record(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.calls == nil {
		b.calls = make(map[string]int)
	}
	b.calls[op]++
}

// Calls returns how many times op was invoked.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Prompts returns every prompt passed to Query, in call order.
func (b *Backend) Prompts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

// ChatIDs returns every argument passed to SelectChat, in call order.
func (b *Backend) ChatIDs() []*string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*string(nil), b.chatIDs...)
}

// Started returns the handles produced by the default Start.
func (b *Backend) Started() []*Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Handle(nil), b.started...)
}

func (b *Backend) Start(ctx context.Context) (chat.Handle, error) {
	b.record("start")
	if b.StartFunc != nil {
		return b.StartFunc(ctx)
	}
	b.mu.Lock()
	h := NewHandle(fmt.Sprintf("session-%d", len(b.started)+1))
	b.started = append(b.started, h)
	b.mu.Unlock()
	return h, nil
}

func (b *Backend) Query(ctx context.Context, prompt string) (chat.Reply, error) {
	b.record("query")
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()
	if b.QueryFunc != nil {
		return b.QueryFunc(ctx, prompt)
	}
	return chat.Reply{Content: "echo: " + prompt}, nil
}

func (b *Backend) Retry(ctx context.Context) (chat.Reply, error) {
	b.record("retry")
	if b.RetryFunc != nil {
		return b.RetryFunc(ctx)
	}
	return chat.Reply{Content: "again"}, nil
}

func (b *Backend) NewChat(ctx context.Context) (chat.ChatRef, error) {
	b.record("newChat")
	if b.NewChatFunc != nil {
		return b.NewChatFunc(ctx)
	}
	return chat.ChatRef{ID: "new"}, nil
}

func (b *Backend) SelectChat(ctx context.Context, chatID *string) (chat.ChatRef, error) {
	b.record("selectChat")
	b.mu.Lock()
	b.chatIDs = append(b.chatIDs, chatID)
	b.mu.Unlock()
	if b.SelectChatFunc != nil {
		return b.SelectChatFunc(ctx, chatID)
	}
	if chatID == nil {
		return chat.ChatRef{}, nil
	}
	return chat.ChatRef{ID: *chatID}, nil
}

func (b *Backend) ChatList(ctx context.Context) ([]chat.Chat, error) {
	b.record("chatList")
	if b.ChatListFunc != nil {
		return b.ChatListFunc(ctx)
	}
	return []chat.Chat{}, nil
}

func (b *Backend) ModelList(ctx context.Context) ([]chat.Model, error) {
	b.record("modelList")
	if b.ModelListFunc != nil {
		return b.ModelListFunc(ctx)
	}
	return []chat.Model{}, nil
}
