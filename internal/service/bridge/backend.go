// Package bridge owns the single backend session the HTTP layer forwards to.
package bridge

import (
	"context"

	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
)

// Backend is the chat-session collaborator the bridge forwards to. Every method
// either returns a value or an error whose message is shown to the caller
// verbatim.
type Backend interface {
	Start(ctx context.Context) (chat.Handle, error)
	Query(ctx context.Context, prompt string) (chat.Reply, error)
	Retry(ctx context.Context) (chat.Reply, error)
	NewChat(ctx context.Context) (chat.ChatRef, error)
	// SelectChat receives nil when the caller sent no chat id.
	SelectChat(ctx context.Context, chatID *string) (chat.ChatRef, error)
	ChatList(ctx context.Context) ([]chat.Chat, error)
	ModelList(ctx context.Context) ([]chat.Model, error)
}

// Operation names used for metrics and the journal.
const (
	OpStart      = "start"
	OpQuery      = "query"
	OpRetry      = "retry"
	OpNewChat    = "newChat"
	OpSelectChat = "selectChat"
	OpChatList   = "chatList"
	OpModelList  = "modelList"
)
