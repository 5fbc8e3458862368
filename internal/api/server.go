// Package api serves a town over HTTP.
// GET endpoints are public reads. Player commands are rate limited per
// client and wait for the tick that settles them. POST /api/v1/speed and
// /api/v1/snapshot require the admin bearer token.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/townsim/internal/engine"
	"github.com/talgya/townsim/internal/persistence"
	"github.com/talgya/townsim/internal/simerr"
)

// Server serves one world over HTTP.
type Server struct {
	World    *engine.World
	Clock    *engine.Clock       // Optional; speed endpoints need it
	DB       *persistence.DB     // Optional; snapshot endpoint needs it
	Port     int
	AdminKey string // Bearer token for admin endpoints. Empty = admin disabled.

	CommandTimeout    time.Duration // How long a command waits for its tick
	CommandsPerMinute int
	MaxStreamConns    int
	AllowedOrigins    []string
	TrustedProxies    []netip.Prefix // Peers whose X-Forwarded-For is believed

	streamConns atomic.Int32
	upgrader    websocket.Upgrader
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	perMinute := s.CommandsPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	commandLimiter := NewRateLimiter(perMinute, time.Minute)
	limited := func(h http.HandlerFunc) http.HandlerFunc { return RateLimitMiddleware(commandLimiter, s.TrustedProxies, h) }

	origins := s.originSet()
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || origins[o]
		},
	}

	mux := http.NewServeMux()

	// Public reads.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/market", s.handleMarket)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/players/{player}", s.handlePlayer)
	mux.HandleFunc("GET /api/v1/players/{player}/reputation", s.handleReputation)
	mux.HandleFunc("GET /api/v1/players/{player}/quests", s.handleQuests)
	mux.HandleFunc("GET /api/v1/players/{player}/disposition/{agent}", s.handleDisposition)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Player commands.
	mux.HandleFunc("POST /api/v1/players/{player}/trade", limited(s.handleTrade))
	mux.HandleFunc("POST /api/v1/players/{player}/talk", limited(s.handleTalk))
	mux.HandleFunc("POST /api/v1/players/{player}/quests/{quest}/accept", limited(s.handleAccept))
	mux.HandleFunc("POST /api/v1/players/{player}/quests/{quest}/abandon", limited(s.handleAbandon))
	mux.HandleFunc("DELETE /api/v1/commands/{id}", limited(s.handleCancel))

	// Admin.
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)
	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(origins, mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server
// can be shut down by the caller.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

func (s *Server) originSet() map[string]bool {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, o := range s.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return allowed
}

// corsMiddleware adds CORS headers for allowed frontend origins.
func corsMiddleware(allowed map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no TOWNSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind simerr.Kind) int {
	switch kind {
	case simerr.KindValidation:
		return http.StatusBadRequest
	case simerr.KindStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as an Outcome body.
func writeError(w http.ResponseWriter, err error) {
	writeJSONStatus(w, statusFor(simerr.KindOf(err)), simerr.OutcomeOf(err))
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("writing response", "err", err)
	}
}
