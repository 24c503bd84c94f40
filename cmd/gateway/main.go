package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"ChatSync/global/config"
	"ChatSync/logger"
	"ChatSync/service/bus"
	"ChatSync/service/chat"
	"ChatSync/service/storage"
	"ChatSync/tools/safe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	gwID := os.Getenv("GATEWAY_ID")
	if gwID == "" {
		gwID = fmt.Sprintf("gw-%d", cfg.NodeID)
	}

	b, err := cfg.NewBus()
	if err != nil {
		logger.Errorf("bus: %v", err)
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	// Presence rides on Redis regardless of the bus driver; the gateway runs
	// without it if Redis is unavailable at boot.
	var presence *storage.Presence
	if rb, ok := b.(*bus.RedisBus); ok {
		presence = storage.NewPresence(rb.Client(), cfg.PresenceTTL)
	} else if rdb, err := bus.NewRedisBus(bus.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err == nil {
		presence = storage.NewPresence(rdb.Client(), cfg.PresenceTTL)
	} else {
		logger.Warnf("presence disabled, redis unavailable: %v", err)
	}

	srv := chat.NewServer(chat.Config{
		GatewayID:     gwID,
		JWTSecret:     []byte(cfg.JWTSecret),
		SendQueueSize: cfg.SendQueueSize,
		FanoutWorkers: cfg.FanoutWorkers,
		FanoutQueue:   cfg.FanoutQueue,
	}, b, presence)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	safe.Go(func() {
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("bus consumer stopped: %v", err)
		}
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/chat", srv.HandleWS)
	r.GET("/health", srv.HandleHealth)

	logger.Infof("[gateway] %s listening on %s", gwID, cfg.GatewayAddr)
	safe.Go(func() {
		if err := r.Run(cfg.GatewayAddr); err != nil {
			logger.Errorf("http server failed: %v", err)
			stop()
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
	time.Sleep(200 * time.Millisecond)
}
