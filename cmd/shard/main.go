// Command shard runs a shard proxy (spec §4.6): a room that holds no
// game logic of its own and forwards every client event to the main
// room over a persistent upstream socket.
package main

import (
	"context"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roomfabric/engine/internal/config"
	"github.com/roomfabric/engine/internal/observability"
	"github.com/roomfabric/engine/internal/shardproxy"
	"github.com/roomfabric/engine/internal/transport"
	"github.com/roomfabric/engine/internal/utils"
)

// mainRoomHTTPURL derives the main room's plain-HTTP base URL from its
// websocket URL (ws/wss -> http/https) for forwarding non-websocket
// requests (spec §4.6 "HTTP requests are forwarded to the main room").
func mainRoomHTTPURL(wsURL string) (*url.URL, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u, nil
}

func main() {
	cfg := config.Load()

	otelCleanup, err := observability.InitOpenTelemetry("roomfabric-shard", "1.0.0")
	if err != nil {
		log.Fatalf("failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := otelCleanup(context.Background()); err != nil {
			log.Printf("error shutting down OpenTelemetry: %v", err)
		}
	}()

	logger := utils.NewLogger(cfg.LogLevel)
	proxy := shardproxy.New(cfg.ShardID, cfg.MainRoomURL, logger)

	dialCtx, cancelDial := context.WithCancel(context.Background())
	if err := proxy.Start(dialCtx); err != nil {
		logger.Fatal(context.Background(), "failed to connect to main room %s: %v", cfg.MainRoomURL, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/shard/"+cfg.ShardID, func(w http.ResponseWriter, req *http.Request) {
		conn, err := transport.Upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Error(req.Context(), "upgrade failed: %v", err)
			return
		}
		ws := transport.NewWSConn(conn, proxy)
		ws.Start()

		privateID := req.Header.Get("X-User-ID")
		if privateID == "" {
			privateID = req.URL.Query().Get("privateId")
		}
		proxy.HandleClientConnect(ws, privateID, map[string]any{
			"remoteAddr": req.RemoteAddr,
		})
	})
	mainRoomHTTP, err := mainRoomHTTPURL(cfg.MainRoomURL)
	if err != nil {
		logger.Fatal(context.Background(), "invalid MAIN_ROOM_URL %s: %v", cfg.MainRoomURL, err)
	}
	forward := httputil.NewSingleHostReverseProxy(mainRoomHTTP)
	baseDirector := forward.Director
	forward.Director = func(req *http.Request) {
		baseDirector(req)
		req.Header.Set("X-Shard-Id", cfg.ShardID)
		req.Header.Set("X-Forwarded-For", req.RemoteAddr)
	}
	mux.Handle("/", forward)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(context.Background(), "shard %s listening on %s, forwarding to %s", cfg.ShardID, server.Addr, cfg.MainRoomURL)
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
	cancelDial()
	logger.Info(shutdownCtx, "shard stopped")
}
