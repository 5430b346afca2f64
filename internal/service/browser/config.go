package browser

import "time"

// Config 描述浏览器自动化后端配置，由 internal/config 从环境变量加载。
type Config struct {
	DevToolsURL  string        `envconfig:"BROWSER_DEVTOOLS_URL" default:"http://127.0.0.1:9222"`
	ChatURL      string        `envconfig:"BROWSER_CHAT_URL" default:"https://chatgpt.com"`
	LoadTimeout  time.Duration `envconfig:"BROWSER_LOAD_TIMEOUT" default:"30s"`
	ReplyTimeout time.Duration `envconfig:"BROWSER_REPLY_TIMEOUT" default:"3m"`
	PollInterval time.Duration `envconfig:"BROWSER_POLL_INTERVAL" default:"500ms"`
	Selectors    SelectorConfig
}

// SelectorConfig 聊天页面各元素的 CSS 选择器。
type SelectorConfig struct {
	PromptInput      string `envconfig:"BROWSER_SELECTOR_PROMPT" default:"#prompt-textarea"`
	SendButton       string `envconfig:"BROWSER_SELECTOR_SEND" default:"[data-testid=\"send-button\"]"`
	StopButton       string `envconfig:"BROWSER_SELECTOR_STOP" default:"[data-testid=\"stop-button\"]"`
	AssistantMessage string `envconfig:"BROWSER_SELECTOR_ASSISTANT" default:"[data-message-author-role=\"assistant\"]"`
	RegenerateButton string `envconfig:"BROWSER_SELECTOR_REGENERATE" default:"[data-testid=\"regenerate-turn-action-button\"]"`
	NewChatButton    string `envconfig:"BROWSER_SELECTOR_NEW_CHAT" default:"[data-testid=\"create-new-chat-button\"]"`
	Sidebar          string `envconfig:"BROWSER_SELECTOR_SIDEBAR" default:"nav"`
	ChatLink         string `envconfig:"BROWSER_SELECTOR_CHAT_LINK" default:"a[href*=\"/c/\"]"`
	ModelSwitcher    string `envconfig:"BROWSER_SELECTOR_MODEL_SWITCHER" default:"[data-testid=\"model-switcher-dropdown-button\"]"`
	ModelMenu        string `envconfig:"BROWSER_SELECTOR_MODEL_MENU" default:"[role=\"menu\"]"`
	ModelItem        string `envconfig:"BROWSER_SELECTOR_MODEL_ITEM" default:"[role=\"menuitem\"][data-testid^=\"model-switcher-\"]"`
}
