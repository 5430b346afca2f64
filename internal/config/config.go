package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/kelseyhightower/envconfig"

	"github.com/zhouzirui/gpt-bridge/backend/internal/service/browser"
)

// Backend kinds.
const (
	BackendBrowser = "browser"
	BackendArk     = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Browser browser.Config
	AI      AIConfig
	Log     LogConfig
	Journal JournalConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.Backend.Kind = strings.ToLower(strings.TrimSpace(cfg.Backend.Kind))
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendBrowser
	}
	switch cfg.Backend.Kind {
	case BackendBrowser, BackendArk:
	default:
		return nil, fmt.Errorf("invalid BACKEND value: %q", cfg.Backend.Kind)
	}

	if cfg.AI.HistoryLimit < 1 {
		cfg.AI.HistoryLimit = 1
	}

	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"3001"`
	Addr string `ignored:"true"`
	// RateLimitRPS 为 0 时不限流
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "3001"
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3001" 或 "127.0.0.1:3001"。
		return port, nil
	}

	return ":" + port, nil
}

// BackendConfig 选择会话后端实现。
type BackendConfig struct {
	Kind string `envconfig:"BACKEND" default:"browser"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string   `envconfig:"ARK_API_KEY"`
	AccessKey    string   `envconfig:"ARK_ACCESS_KEY"`
	SecretKey    string   `envconfig:"ARK_SECRET_KEY"`
	Model        string   `envconfig:"ARK_MODEL"`
	Models       []string `envconfig:"ARK_MODELS"`
	BaseURL      string   `envconfig:"ARK_BASE_URL" default:"https://ark.cn-beijing.volces.com/api/v3"`
	Region       string   `envconfig:"ARK_REGION" default:"cn-beijing"`
	Temperature  *float32 `envconfig:"ARK_TEMPERATURE"`
	TopP         *float32 `envconfig:"ARK_TOP_P"`
	MaxTokens    *int     `envconfig:"ARK_MAX_TOKENS"`
	SystemPrompt string   `envconfig:"ARK_SYSTEM_PROMPT" default:"You are a concise, capable assistant."`
	HistoryLimit int      `envconfig:"ARK_HISTORY_LIMIT" default:"10"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		TopP:        c.TopP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	Level      string   `envconfig:"LOG_LEVEL" default:"info"`
	Writers    []string `envconfig:"LOG_WRITERS" default:"console"`
	File       string   `envconfig:"LOG_FILE" default:"logs/bridge.log"`
	MaxSizeMB  int      `envconfig:"LOG_MAX_SIZE_MB" default:"50"`
	MaxBackups int      `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int      `envconfig:"LOG_MAX_AGE_DAYS" default:"14"`
}

// JournalConfig 描述交互日志存储配置，默认关闭，设置 JOURNAL_DSN 后启用。
type JournalConfig struct {
	DSN         string `envconfig:"JOURNAL_DSN"`
	TablePrefix string `envconfig:"JOURNAL_TABLE_PREFIX" default:"bridge_"`
}

// Enabled 表示是否启用交互日志。
func (c JournalConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}
