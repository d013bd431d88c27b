package world

import (
	"encoding/json"
	"net/http"

	"github.com/roomfabric/engine/internal/auth"
	"github.com/roomfabric/engine/internal/middleware"
	"github.com/roomfabric/engine/internal/transfer"
	"github.com/roomfabric/engine/internal/utils"
)

// Router exposes the Registry over HTTP (spec §6.2), grounded on the
// teacher's api.Router: a *http.ServeMux plus small per-endpoint
// handler methods.
type Router struct {
	mux         *http.ServeMux
	registry    *Registry
	jwtMgr      *auth.JWTManager
	shardSecret string
	worldID     string
	logger      *utils.Logger
}

// NewRouter builds the world's HTTP surface. rateLimiter is optional;
// pass nil to skip rate limiting (e.g. in tests).
func NewRouter(registry *Registry, jwtMgr *auth.JWTManager, shardSecret, worldID string, logger *utils.Logger, rateLimiter *middleware.RateLimiter) http.Handler {
	r := &Router{
		mux:         http.NewServeMux(),
		registry:    registry,
		jwtMgr:      jwtMgr,
		shardSecret: shardSecret,
		worldID:     worldID,
		logger:      logger,
	}

	admin := func(h http.HandlerFunc) http.Handler {
		wrapped := http.Handler(h)
		if rateLimiter != nil {
			wrapped = rateLimiter.Middleware(wrapped)
		}
		return r.adminGuard(wrapped)
	}

	r.mux.HandleFunc("/healthz", r.HealthzHandler)
	r.mux.HandleFunc("/connect", r.ConnectHandler)
	r.mux.HandleFunc("/room-info", r.RoomInfoHandler)
	r.mux.Handle("/register-room", admin(r.RegisterRoomHandler))
	r.mux.Handle("/register-shard", admin(r.RegisterShardHandler))
	r.mux.Handle("/update-shard", admin(r.UpdateShardHandler))
	r.mux.Handle("/scale-room", admin(r.ScaleRoomHandler))
	r.mux.Handle("/transfer-user-session", admin(r.TransferUserSessionHandler))
	r.mux.Handle("/transfer-room-state", admin(r.TransferRoomStateHandler))

	var handler http.Handler = r.mux
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.TracingMiddleware(handler)
	return handler
}

// adminGuard implements spec §4.5's admin auth: a JWT whose `worlds`
// claim lists this world, or a matching X-Access-Shard header.
func (r *Router) adminGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.shardSecret != "" && req.Header.Get("X-Access-Shard") == r.shardSecret {
			next.ServeHTTP(w, req)
			return
		}

		tok := bearerToken(req)
		if tok != "" && r.jwtMgr != nil {
			claims, err := r.jwtMgr.ValidateToken(tok)
			if err == nil && claims.Authorizes(r.worldID) {
				next.ServeHTTP(w, req)
				return
			}
		}
		utils.RespondError(w, http.StatusForbidden, "admin authorization required")
	})
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// HealthzHandler is a plain liveness probe.
func (r *Router) HealthzHandler(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ConnectHandler implements POST /connect (spec §6.2).
func (r *Router) ConnectHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		utils.RespondError(w, http.StatusBadRequest, "POST required")
		return
	}
	var body struct {
		RoomID     string `json:"roomId"`
		AutoCreate bool   `json:"autoCreate"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.RoomID == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	placement, err := r.registry.GetOptimalShard(body.RoomID, body.AutoCreate)
	if err != nil {
		status := http.StatusInternalServerError
		if err == ErrUnknownRoom || err == ErrNoActiveShards {
			status = http.StatusNotFound
		}
		r.logger.Error(req.Context(), "world: connect %s: %v", body.RoomID, err)
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "shardId": placement.ShardID, "url": placement.URL})
}

// RegisterRoomHandler implements POST /register-room.
func (r *Router) RegisterRoomHandler(w http.ResponseWriter, req *http.Request) {
	var cfg RoomConfig
	if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil || cfg.Name == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid room config")
		return
	}
	info, err := r.registry.RegisterRoom(cfg)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, info)
}

// RegisterShardHandler implements POST /register-shard.
func (r *Router) RegisterShardHandler(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ShardID        string `json:"shardId"`
		RoomID         string `json:"roomId"`
		URL            string `json:"url"`
		MaxConnections int    `json:"maxConnections"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.ShardID == "" || body.RoomID == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	shard, err := r.registry.RegisterShard(body.ShardID, body.RoomID, body.URL, body.MaxConnections)
	if err != nil {
		status := http.StatusBadRequest
		if err == ErrUnknownRoom {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, shard)
}

// UpdateShardHandler implements POST /update-shard.
func (r *Router) UpdateShardHandler(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ShardID     string `json:"shardId"`
		Connections int    `json:"connections"`
		Status      string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.ShardID == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	shard, err := r.registry.UpdateShardStats(body.ShardID, body.Connections, ShardStatus(body.Status))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, shard)
}

// ScaleRoomHandler implements POST /scale-room.
func (r *Router) ScaleRoomHandler(w http.ResponseWriter, req *http.Request) {
	var body struct {
		RoomID           string      `json:"roomId"`
		TargetShardCount int         `json:"targetShardCount"`
		ShardTemplate    *RoomConfig `json:"shardTemplate"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.RoomID == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	info, err := r.registry.ScaleShardsForRoom(body.RoomID, body.TargetShardCount, body.ShardTemplate)
	if err != nil {
		status := http.StatusBadRequest
		if err == ErrUnknownRoom {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, info)
}

// RoomInfoHandler implements GET /room-info[?roomId=].
func (r *Router) RoomInfoHandler(w http.ResponseWriter, req *http.Request) {
	roomID := req.URL.Query().Get("roomId")
	if roomID == "" {
		utils.RespondJSON(w, http.StatusOK, map[string]any{"rooms": r.registry.AllRoomInfo()})
		return
	}
	info, ok := r.registry.RoomInfo(roomID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown room")
		return
	}
	utils.RespondJSON(w, http.StatusOK, info)
}

// TransferUserSessionHandler implements POST /transfer-user-session
// (spec §6.2): the source room's admin surface calls this to mint a
// transfer token for one session, which the caller then hands to the
// client to present to the target room on reconnect.
func (r *Router) TransferUserSessionHandler(w http.ResponseWriter, req *http.Request) {
	var body struct {
		FromRoomID string `json:"fromRoomId"`
		ToRoomID   string `json:"toRoomId"`
		SessionID  string `json:"sessionId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.FromRoomID == "" || body.ToRoomID == "" || body.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if _, ok := r.registry.RoomInfo(body.FromRoomID); !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown source room")
		return
	}
	if _, ok := r.registry.RoomInfo(body.ToRoomID); !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown target room")
		return
	}

	token, err := transfer.Prepare(req.Context(), r.registry.KV(), body.FromRoomID, body.SessionID, body.ToRoomID, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if err == transfer.ErrNoSession {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

// TransferRoomStateHandler implements POST /transfer-room-state (spec
// §6.2): hands an arbitrary state payload from one room to another,
// independent of any single user's session.
func (r *Router) TransferRoomStateHandler(w http.ResponseWriter, req *http.Request) {
	var body struct {
		FromRoomID string         `json:"fromRoomId"`
		ToRoomID   string         `json:"toRoomId"`
		State      map[string]any `json:"state"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.FromRoomID == "" || body.ToRoomID == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if _, ok := r.registry.RoomInfo(body.FromRoomID); !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown source room")
		return
	}
	if _, ok := r.registry.RoomInfo(body.ToRoomID); !ok {
		utils.RespondError(w, http.StatusNotFound, "unknown target room")
		return
	}

	token, err := transfer.PrepareRoomState(req.Context(), r.registry.KV(), body.FromRoomID, body.ToRoomID, body.State)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}
