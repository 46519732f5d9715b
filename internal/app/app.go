package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/park285/chess-indexer/internal/accounts"
	"github.com/park285/chess-indexer/internal/config"
	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/feed"
	"github.com/park285/chess-indexer/internal/games"
	"github.com/park285/chess-indexer/internal/ingest"
	"github.com/park285/chess-indexer/internal/kv"
	"github.com/park285/chess-indexer/internal/progress"
	"github.com/park285/chess-indexer/internal/server"
)

type Deps struct {
	Store     kv.Store
	Accounts  *accounts.Store
	Games     *games.Store
	Progress  *progress.Tracker
	Sequencer *ingest.Sequencer
	Server    *server.Server
	// Feed is nil unless an upstream websocket feed is configured.
	Feed *feed.Subscriber
}

// New wires storage, entity stores, the sequencer and the HTTP server from cfg.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := kv.Open(ctx, cfg.StoreURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	deps, err := build(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return deps, nil
}

func build(ctx context.Context, cfg *config.AppConfig, store kv.Store, logger *zap.Logger) (*Deps, error) {
	acc, err := accounts.NewStore(store, accounts.Options{CacheSize: cfg.AccountCacheSize, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("init accounts: %w", err)
	}
	gs, err := games.NewStore(ctx, store, acc, games.Options{
		RecentCap: cfg.RecentIndexCap,
		CacheSize: cfg.GameCacheSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init games: %w", err)
	}
	tracker := progress.NewTracker(store, logger)
	seq := ingest.NewSequencer(gs, tracker, ingest.Options{Concurrency: cfg.IngestConcurrency, Logger: logger})

	srv := server.New(server.Deps{
		Games:          gs,
		Accounts:       acc,
		Progress:       tracker,
		Ingester:       seq,
		Secret:         cfg.Secret,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})

	deps := &Deps{
		Store:     store,
		Accounts:  acc,
		Games:     gs,
		Progress:  tracker,
		Sequencer: seq,
		Server:    srv,
	}

	if cfg.Feed.WSURL != "" {
		deps.Feed = feed.NewSubscriber(feed.SubscriberConfig{
			URL:                  cfg.Feed.WSURL,
			Token:                cfg.Feed.Token,
			MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
			Logger:               logger,
		}, deps.ingestFeedBatch)
	}

	logger.Info("app_ready",
		zap.String("store", storeScheme(cfg.StoreURL)),
		zap.Int("recent_cap", cfg.RecentIndexCap),
		zap.Bool("feed", deps.Feed != nil),
	)
	return deps, nil
}

func (d *Deps) ingestFeedBatch(ctx context.Context, b *domain.Batch) error {
	_, err := d.Sequencer.Ingest(ctx, b)
	return err
}

// Shutdown stops the HTTP server and closes storage.
func (d *Deps) Shutdown(ctx context.Context) error {
	var errs []error
	if d.Server != nil {
		if err := d.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// storeScheme keeps credentials out of logs.
func storeScheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "memory"
	}
	return u.Scheme
}
