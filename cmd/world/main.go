// Command world runs the World registry: the room/shard catalog,
// placement HTTP surface, and heartbeat sweep (spec §4.5). Its
// lifecycle follows the teacher's cmd/main.go init/serve/graceful
// shutdown structure.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roomfabric/engine/internal/auth"
	"github.com/roomfabric/engine/internal/config"
	"github.com/roomfabric/engine/internal/middleware"
	"github.com/roomfabric/engine/internal/observability"
	"github.com/roomfabric/engine/internal/storage"
	"github.com/roomfabric/engine/internal/utils"
	"github.com/roomfabric/engine/internal/world"
)

func main() {
	cfg := config.Load()

	otelCleanup, err := observability.InitOpenTelemetry("roomfabric-world", "1.0.0")
	if err != nil {
		log.Fatalf("failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := otelCleanup(context.Background()); err != nil {
			log.Printf("error shutting down OpenTelemetry: %v", err)
		}
	}()

	logger := utils.NewLogger(cfg.LogLevel)

	kv, err := storage.NewRedisKV(cfg.RedisURL)
	if err != nil {
		logger.Fatal(context.Background(), "failed to initialize storage: %v", err)
	}

	jwtMgr := auth.NewJWTManager(cfg.AuthJWTSecret)
	registry, err := world.NewRegistry(kv)
	if err != nil {
		logger.Fatal(context.Background(), "failed to load world catalog: %v", err)
	}

	var rateLimiter *middleware.RateLimiter
	if kv.Client() != nil {
		rateLimiter = middleware.NewRateLimiter(kv.Client(), 100, 10)
	}

	router := world.NewRouter(registry, jwtMgr, cfg.ShardSecret, cfg.WorldID, logger, rateLimiter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// The HTTP server and the heartbeat sweep are the world's two
	// background components; errgroup ties their lifetimes to one
	// cancellation so a failure in either unwinds both.
	bgCtx, cancelBg := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(bgCtx)
	group.Go(func() error {
		registry.RunHeartbeatSweep(groupCtx, logger, cfg.HeartbeatSweepInterval, cfg.HeartbeatInactiveAfter)
		return nil
	})
	group.Go(func() error {
		logger.Info(context.Background(), "world %s listening on %s", cfg.WorldID, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown error: %v", err)
	}
	cancelBg()
	if err := group.Wait(); err != nil {
		logger.Error(shutdownCtx, "background component error: %v", err)
	}
	if err := kv.Close(); err != nil {
		logger.Error(shutdownCtx, "storage close error: %v", err)
	}
	logger.Info(shutdownCtx, "world stopped")
}
