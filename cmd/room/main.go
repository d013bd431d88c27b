// Command room hosts a single room instance: the counter-and-users
// reference room from the testable scenarios (spec §8 scenario 1),
// wired through the generic room.Server runtime. A production
// deployment swaps chatUser and the increment action for its own
// entity and action set; the runtime underneath is unchanged.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roomfabric/engine/internal/config"
	"github.com/roomfabric/engine/internal/observability"
	"github.com/roomfabric/engine/internal/room"
	rsignal "github.com/roomfabric/engine/internal/signal"
	"github.com/roomfabric/engine/internal/statesync"
	"github.com/roomfabric/engine/internal/storage"
	"github.com/roomfabric/engine/internal/transport"
	"github.com/roomfabric/engine/internal/utils"
)

func main() {
	cfg := config.Load()

	otelCleanup, err := observability.InitOpenTelemetry("roomfabric-room", "1.0.0")
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

	count := rsignal.NewScalar(0)
	limiter := room.NewConnRateLimiter(5, 10)

	actions := room.NewActionRegistry()
	actions.Register("increment", room.Action{
		Handler: func(ctx context.Context, uc *room.UserContext, value json.RawMessage) error {
			count.Update(func(v int) int { return v + 1 })
			chat := uc.User.(*chatUser)
			chat.score.Update(func(v int) int { return v + 1 })
			return nil
		},
	})

	requests := room.NewRequestRegistry()

	srv := room.New(room.Config{
		RoomID: cfg.ShardID,
		KV:     kv,
		Logger: logger,
		NewUser: func(publicID string) room.User {
			return newChatUser(publicID)
		},
		Guards:   []room.Guard{limiter.Guard()},
		Actions:  actions,
		Requests: requests,
		Hooks: room.Hooks{
			OnLeave: func(ctx context.Context, uc *room.UserContext) {
				limiter.Forget(uc.Conn)
			},
		},
		SessionExpiry:   time.Duration(cfg.SessionExpiryMS) * time.Millisecond,
		SyncThrottle:    time.Duration(cfg.ThrottleSyncMS) * time.Millisecond,
		PersistThrottle: time.Duration(cfg.ThrottlePersistMS) * time.Millisecond,
	})
	statesync.BindScalar(srv.Engine(), "count", count)
	srv.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms/"+cfg.ShardID, func(w http.ResponseWriter, req *http.Request) {
		conn, err := transport.Upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Error(req.Context(), "upgrade failed: %v", err)
			return
		}
		ws := transport.NewWSConn(conn, srv)
		ws.Start()

		privateID := req.Header.Get("X-User-ID")
		if privateID == "" {
			privateID = req.URL.Query().Get("privateId")
		}
		if privateID == "" {
			_ = ws.Close()
			return
		}

		if err := srv.Connect(req.Context(), room.ConnectRequest{
			Conn:          ws,
			PrivateID:     privateID,
			TransferToken: req.URL.Query().Get("transfer_token"),
		}); err != nil {
			logger.Error(req.Context(), "connect rejected for %s: %v", privateID, err)
			_ = ws.Close()
		}
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(context.Background(), "room %s listening on %s", cfg.ShardID, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(context.Background(), "server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown error: %v", err)
	}
	srv.Stop()
	if err := kv.Close(); err != nil {
		logger.Error(shutdownCtx, "storage close error: %v", err)
	}
	logger.Info(shutdownCtx, "room stopped")
}
