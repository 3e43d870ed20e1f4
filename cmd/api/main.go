package main

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-insights/internal/auth"
	"call-insights/internal/config"
	"call-insights/internal/dispatch"
	"call-insights/internal/events"
	"call-insights/internal/httpapi"
	"call-insights/internal/storage"
	"call-insights/internal/telephony"
	"call-insights/pkg/logger"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error(".env load failed", "err", err)
		os.Exit(1)
	}

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	injector := setupDI(cfg, log)

	db := mustInvoke[*sql.DB](log, injector)
	defer db.Close()
	rdb := mustInvoke[*redis.Client](log, injector)
	defer rdb.Close()
	gcs := mustInvoke[*storage.GCS](log, injector)
	defer gcs.Close()

	authManager := mustInvoke[*auth.Manager](log, injector)
	api := mustInvoke[*httpapi.Handlers](log, injector)
	tw := mustInvoke[*telephony.Handler](log, injector)
	dispatcher := mustInvoke[*dispatch.Dispatcher](log, injector)
	publisher := mustInvoke[*events.Publisher](log, injector)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, cfg, auth.RequireAccessToken(authManager), api, tw)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// Uploads are large; reads get more room than the default API budget.
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// In-flight pipeline runs get their own budget. Runs still going afterwards are
	// cancelled and end up failed with a "context canceled" message.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Pipeline.DrainTimeout)
	defer drainCancel()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		log.Warn("background tasks cancelled before completion", "err", err)
	}

	if err := publisher.Close(); err != nil {
		log.Error("event publisher close failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func mustInvoke[T any](log *slog.Logger, injector do.Injector) T {
	v, err := do.Invoke[T](injector)
	if err != nil {
		log.Error("dependency init failed", "err", err)
		os.Exit(1)
	}
	return v
}
