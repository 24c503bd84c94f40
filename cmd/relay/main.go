package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ChatSync/global/config"
	"ChatSync/logger"
	"ChatSync/module/chat"
	"ChatSync/module/status/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := cfg.NewPgPool(ctx)
	if err != nil {
		logger.Errorf("postgres: %v", err)
		os.Exit(1)
	}
	defer pool.Close()

	store, err := cfg.NewStatusStore(ctx, pool)
	if err != nil {
		logger.Errorf("status store: %v", err)
		os.Exit(1)
	}

	b, err := cfg.NewBus()
	if err != nil {
		logger.Errorf("bus: %v", err)
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	repo := chat.NewPgRepo(pool, cfg.InlineStatuses())
	r := relay.New(b, store, repo)

	logger.Info("[relay] starting")
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Errorf("relay stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("[relay] shut down")
}
