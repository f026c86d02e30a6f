package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duochat/internal/auth"
	"duochat/internal/blob"
	"duochat/internal/config"
	"duochat/internal/events"
	"duochat/internal/idem"
	"duochat/internal/presence"
	"duochat/internal/ratelimit"
	"duochat/internal/realtime"
	"duochat/internal/store"
)

// Handler holds application dependencies
type Handler struct {
	Store    *store.Store
	Blobs    blob.Store
	Registry *presence.Registry
	Hub      *realtime.Hub
	Router   *realtime.Router
	Auth     *auth.Issuer
	Config   config.Config
	Limiter  *ratelimit.Pool
	Idem     idem.Store
}

// New creates a new Handler and the realtime core it drives
func New(cfg config.Config, st *store.Store, blobs blob.Store, pub events.Publisher, idemStore idem.Store) *Handler {
	registry := presence.New()
	hub := realtime.NewHub(registry, realtime.Options{
		WriteTimeout: cfg.WSWriteTimeout,
		Inbound:      ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst),
	})

	return &Handler{
		Store:    st,
		Blobs:    blobs,
		Registry: registry,
		Hub:      hub,
		Router:   realtime.NewRouter(registry, hub, st, pub),
		Auth:     auth.NewIssuer(cfg.JWTSecret),
		Config:   cfg,
		Limiter:  ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Idem:     idemStore,
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// 添付ファイル
	r.HandleFunc("/images/{name}", h.ServeAttachment(imageFolder)).Methods("GET")
	r.HandleFunc("/uploads/{name}", h.ServeAttachment(documentFolder)).Methods("GET")

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	// REST API（/{peerId} より先に固定パスを登録する）
	api := r.PathPrefix("/messages").Subrouter()
	api.Use(h.RequireAuth)
	api.HandleFunc("/users", h.GetUsers).Methods("GET")
	api.HandleFunc("/mark-seen", h.MarkSeen).Methods("POST")
	api.HandleFunc("/send/{peerId}", h.limited(h.SendMessage)).Methods("POST")
	api.HandleFunc("/send-image/{peerId}", h.limited(h.SendImage)).Methods("POST")
	api.HandleFunc("/send-pdf/{peerId}", h.limited(h.SendPDF)).Methods("POST")
	api.HandleFunc("/{peerId}", h.GetMessages).Methods("GET")

	return r
}

// RequireAuth resolves the session token into the caller's user id
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized - No Token Provided")
			return
		}

		userID, err := h.Auth.Verify(token)
		if err != nil {
			log.Printf("[%s %s] ❌ Unauthorized: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "Unauthorized - Invalid Token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	})
}

// limited applies the per-user rate limit to send endpoints
func (h *Handler) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFromContext(r.Context())
		if h.Limiter != nil && !h.Limiter.Allow(userID) {
			log.Printf("[%s %s] ❌ Rate limited user=%s", r.Method, r.URL.Path, userID)
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
