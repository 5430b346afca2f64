package chat

import "time"

// Handle references an active backend session. Close releases whatever the
// session holds (a browser tab, a model client).
type Handle interface {
	ID() string
	Close() error
}

// Reply is one assistant answer produced by the backend.
type Reply struct {
	ID         string    `json:"id,omitempty"`
	ChatID     string    `json:"chatId,omitempty"`
	Content    string    `json:"content"`
	HTML       string    `json:"html,omitempty"`
	CodeBlocks []string  `json:"codeBlocks,omitempty"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChatRef identifies the chat the backend switched to.
type ChatRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Chat is one entry of the backend's conversation list.
type Chat struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
	Active bool   `json:"active"`
}

// Model is one selectable model offered by the backend.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Selected    bool   `json:"selected"`
}
