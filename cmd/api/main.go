package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"ChatSync/global/config"
	"ChatSync/logger"
	"ChatSync/module/chat"
	sec "ChatSync/tools/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("CHATSYNC_JWT_SECRET is required for the API")
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
	svc := chat.NewService(repo, store, b, cfg.InlineStatuses(), cfg.MaxMessageSize)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "bus": b.Healthy()})
	})
	chat.NewHandler(svc).RegisterRoutes(r, sec.DefaultOptions([]byte(cfg.JWTSecret)))

	logger.Infof("[api] listening on %s", cfg.HTTPAddr)
	go func() {
		if err := r.Run(cfg.HTTPAddr); err != nil {
			logger.Errorf("http server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("[api] shut down")
}
