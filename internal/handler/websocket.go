package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"duochat/internal/auth"
)

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// ブラウザ以外のクライアントは Origin を送らない
			if origin == "" {
				return true
			}
			return allowedMap[origin]
		},
	}
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := h.handshakeUser(r)
	if err != nil {
		log.Printf("[WebSocket] ❌ Handshake rejected from %s: %v", r.RemoteAddr, err)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	h.Hub.Serve(conn, userID)
}

// handshakeUser resolves the identity of a connecting client. A verified
// session token is required unless the deployment opts into trusting the
// client supplied userId parameter.
func (h *Handler) handshakeUser(r *http.Request) (string, error) {
	if token := auth.TokenFromRequest(r); token != "" {
		return h.Auth.Verify(token)
	}
	if h.Config.TrustHandshakeUserID {
		if userID := r.URL.Query().Get("userId"); userID != "" {
			return userID, nil
		}
	}
	return "", auth.ErrUnauthorized
}
