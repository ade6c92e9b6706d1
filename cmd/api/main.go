package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskboard/api/internal/app"
	"taskboard/api/internal/audit"
	"taskboard/api/internal/config"
	"taskboard/api/internal/invite"
	"taskboard/api/internal/rolecache"
	"taskboard/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)

	recorder := audit.NewRecorder(dataStore, logger, cfg.AuditQueueSize, cfg.StoreTimeout)
	defer recorder.Close()

	inviteService := invite.New(dataStore, cfg.InviteTTL)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		roles, err := rolecache.New(cfg.RedisURL, cfg.RoleCacheTTL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer roles.Close()
		logger.Info("role cache enabled", zap.Duration("ttl", cfg.RoleCacheTTL))
		service = app.New(cfg, dataStore, recorder, inviteService, roles)
	} else {
		logger.Info("role cache disabled, authorization reads hit postgres")
		service = app.New(cfg, dataStore, recorder, inviteService, nil)
	}

	httpServer := app.NewHTTPServer(service, logger, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("taskboard api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
