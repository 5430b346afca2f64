package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
	"github.com/zhouzirui/gpt-bridge/backend/pkg/utils"
)

// maxBodyBytes 请求体大小上限
const maxBodyBytes = 1 << 20

var errInvalidBody = errors.New("invalid request body")

// Sessions 会话管理器需要提供的能力
type Sessions interface {
	Start(ctx context.Context) (chat.Handle, error)
	Query(ctx context.Context, prompt string) (chat.Reply, error)
	Retry(ctx context.Context) (chat.Reply, error)
	NewChat(ctx context.Context) (chat.ChatRef, error)
	SelectChat(ctx context.Context, chatID *string) (chat.ChatRef, error)
	ChatList(ctx context.Context) ([]chat.Chat, error)
	ModelList(ctx context.Context) ([]chat.Model, error)
}

// Handler 把 HTTP 请求转发给会话后端
type Handler struct {
	sessions Sessions
}

// New 创建桥接处理器
func New(sessions Sessions) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册桥接路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/start", h.handleStart)
	r.Post("/queryAi", h.handleQuery)
	r.Post("/retry", h.handleRetry)
	r.Post("/newChat", h.handleNewChat)
	r.Post("/selectChat", h.handleSelectChat)
	r.Get("/currentChatList", h.handleChatList)
	r.Get("/currentGptList", h.handleModelList)
}

// handleStart 启动浏览器会话
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.Start(r.Context()); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "Browser started"})
}

// handleQuery 发送提问
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	prompt := field(body, "prompt")
	if !truthy(prompt) {
		utils.RespondError(w, http.StatusBadRequest, "Missing prompt")
		return
	}

	result, err := h.sessions.Query(r.Context(), prompt.String())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleRetry 重新生成上一条回答
func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.Retry(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleNewChat 新建对话
func (h *Handler) handleNewChat(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.NewChat(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleSelectChat 切换对话，chatId 原样转发
func (h *Handler) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var chatID *string
	if id := field(body, "chatId"); id.Exists() && id.Type != gjson.Null {
		s := id.String()
		chatID = &s
	}

	result, err := h.sessions.SelectChat(r.Context(), chatID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleChatList 列出当前对话
func (h *Handler) handleChatList(w http.ResponseWriter, r *http.Request) {
	chats, err := h.sessions.ChatList(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chats == nil {
		chats = []chat.Chat{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// handleModelList 列出可选模型
func (h *Handler) handleModelList(w http.ResponseWriter, r *http.Request) {
	models, err := h.sessions.ModelList(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []chat.Model{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"models": models})
}

// readBody 读取 JSON 请求体，空请求体视为 {}
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errInvalidBody
	}
	if len(body) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(body) {
		return nil, errInvalidBody
	}
	return body, nil
}

// field 返回顶层字段；键重复时以最后一个为准
func field(body []byte, key string) gjson.Result {
	var last gjson.Result
	gjson.ParseBytes(body).ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			last = v
		}
		return true
	})
	return last
}

// truthy 按脚本语言的真值规则判断字段
func truthy(v gjson.Result) bool {
	if !v.Exists() {
		return false
	}
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	default:
		return true
	}
}
