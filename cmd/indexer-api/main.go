package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-indexer/internal/app"
	appcfg "github.com/park285/chess-indexer/internal/config"
	"github.com/park285/chess-indexer/internal/feed"
	"github.com/park285/chess-indexer/internal/obslog"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(cfg.Log); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("app_init_failed", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		if err := deps.Server.ListenAndServe(cfg.ListenAddr); err != nil {
			errCh <- err
		}
	}()

	if deps.Feed != nil {
		deps.Feed.OnStateChange(func(s feed.State) {
			logger.Info("feed_state", zap.String("state", string(s)))
		})
		go func() {
			if err := deps.Feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-errCh:
		logger.Error("component_failed", zap.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := deps.Shutdown(sctx); err != nil {
		logger.Error("shutdown_failed", zap.Error(err))
	}
}
