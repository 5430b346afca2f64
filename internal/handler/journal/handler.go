package journal

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/gpt-bridge/backend/internal/service/journal"
	"github.com/zhouzirui/gpt-bridge/backend/pkg/utils"
)

// Lister 交互日志读取接口
type Lister interface {
	List(ctx context.Context, limit int) ([]journal.Exchange, error)
}

// Export JSON 导出结构
type Export struct {
	RunID         string             `json:"run_id"`
	Backend       string             `json:"backend"`
	ExportedAtUTC time.Time          `json:"exported_at_utc"`
	Exchanges     []journal.Exchange `json:"exchanges"`
}

// Handler 交互日志导出处理器
type Handler struct {
	store   Lister
	backend string
	runID   string
	now     func() time.Time
}

// New 创建导出处理器，store 为 nil 时接口返回 404
func New(store Lister, backend string) *Handler {
	return &Handler{
		store:   store,
		backend: backend,
		runID:   uuid.NewString(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes 注册导出路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/transcript", h.handleExport)
}

// handleExport 导出交互日志，format=json|csv
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		utils.RespondError(w, http.StatusNotFound, journal.ErrDisabled.Error())
		return
	}

	limit := journal.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := h.store.List(r.Context(), limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []journal.Exchange{}
	}

	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "json":
		utils.RespondJSON(w, http.StatusOK, Export{
			RunID:         h.runID,
			Backend:       h.backend,
			ExportedAtUTC: h.now(),
			Exchanges:     rows,
		})
	case "csv":
		h.writeCSV(w, rows)
	default:
		utils.RespondError(w, http.StatusBadRequest, "format must be json or csv")
	}
}

func (h *Handler) writeCSV(w http.ResponseWriter, rows []journal.Exchange) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"bridge_transcript_%s.csv\"", h.runID))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"idx", "operation", "chat_id", "prompt", "reply", "error", "created_at"})
	for i, row := range rows {
		_ = cw.Write([]string{
			strconv.Itoa(i),
			row.Operation,
			row.ChatID,
			escapeNewlines(row.Prompt),
			escapeNewlines(row.Reply),
			escapeNewlines(row.Error),
			row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
}

func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", `\n`)
}
