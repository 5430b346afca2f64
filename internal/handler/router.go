package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/gpt-bridge/backend/internal/handler/bridge"
	"github.com/zhouzirui/gpt-bridge/backend/internal/handler/journal"
	"github.com/zhouzirui/gpt-bridge/backend/internal/logger"
	middlewarePkg "github.com/zhouzirui/gpt-bridge/backend/internal/middleware"
	"github.com/zhouzirui/gpt-bridge/backend/internal/monitoring"
	bridgeService "github.com/zhouzirui/gpt-bridge/backend/internal/service/bridge"
	"github.com/zhouzirui/gpt-bridge/backend/pkg/utils"
)

// Deps 路由依赖
type Deps struct {
	Sessions *bridgeService.Manager
	// Journal 为 nil 时 /transcript 返回 404
	Journal   journal.Lister
	Backend   string
	RateLimit middlewarePkg.RateLimitConfig
	Metrics   *monitoring.Metrics
	Logger    logger.Logger
}

// NewRouter wires HTTP routes to the session manager.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(middlewarePkg.GlobalRateLimit(deps.RateLimit))
	r.Use(monitoring.Middleware(deps.Metrics))

	bridge.New(deps.Sessions).RegisterRoutes(r)
	journal.New(deps.Journal, deps.Backend).RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		session := ""
		if h := deps.Sessions.Current(); h != nil {
			session = h.ID()
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"backend": deps.Backend,
			"session": session,
		})
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	return r
}
