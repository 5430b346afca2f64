package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/gpt-bridge/backend/internal/config"
	"github.com/zhouzirui/gpt-bridge/backend/internal/handler"
	journalHandler "github.com/zhouzirui/gpt-bridge/backend/internal/handler/journal"
	"github.com/zhouzirui/gpt-bridge/backend/internal/logger"
	"github.com/zhouzirui/gpt-bridge/backend/internal/middleware"
	"github.com/zhouzirui/gpt-bridge/backend/internal/model/catalog"
	"github.com/zhouzirui/gpt-bridge/backend/internal/monitoring"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/ai"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/bridge"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/browser"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/chat"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/journal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writers:    cfg.Log.Writers,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if envErr != nil {
		log.Debug("no .env file loaded, continuing with system environment variables only", "error", envErr.Error())
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Err(err, "server error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	metrics := monitoring.NewMetrics()

	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}

	opts := []bridge.Option{
		bridge.WithMetrics(metrics),
		bridge.WithLogger(log.With("component", "bridge")),
	}

	// Journal 为可选项，关闭时路由收到 nil
	var lister journalHandler.Lister
	if cfg.Journal.Enabled() {
		store, err := journal.Open(journal.Options{
			DSN:         cfg.Journal.DSN,
			TablePrefix: cfg.Journal.TablePrefix,
			Logger:      log.With("component", "journal"),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Err(err, "failed to close journal")
			}
		}()
		opts = append(opts, bridge.WithJournal(store))
		lister = store
		log.Info("journal enabled", "dsn", cfg.Journal.DSN)
	} else {
		log.Info("journal disabled")
	}

	manager := bridge.NewManager(backend, opts...)
	defer func() {
		if err := manager.Close(); err != nil {
			log.Err(err, "failed to release session")
		}
	}()

	router := handler.NewRouter(handler.Deps{
		Sessions: manager,
		Journal:  lister,
		Backend:  cfg.Backend.Kind,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		},
		Metrics: metrics,
		Logger:  log.With("component", "http"),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("GPT bridge listening", "addr", cfg.Server.Addr, "backend", cfg.Backend.Kind)
	return runServer(ctx, srv)
}

// newBackend 根据配置选择会话后端
func newBackend(cfg *config.Config, log logger.Logger) (bridge.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendArk:
		if !cfg.AI.Enabled() {
			log.Warn("Ark 凭证未配置，/start 将返回错误 - 请检查 ARK_API_KEY 与 ARK_MODEL")
		}
		models := catalog.NewMemoryStore(catalog.Seed(cfg.AI.Model, cfg.AI.Models))
		return ai.NewService(cfg.AI, chat.NewService(), models,
			ai.WithLogger(log.With("component", "ark")),
		), nil
	case config.BackendBrowser:
		return browser.New(cfg.Browser,
			browser.WithLogger(log.With("component", "browser")),
		), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend.Kind)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
