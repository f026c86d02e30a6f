package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"duochat/internal/auth"
	"duochat/internal/metrics"
	"duochat/internal/model"
)

// IdempotencyHeader lets clients retry a send without persisting it twice.
const IdempotencyHeader = "Idempotency-Key"

// GetUsers handles GET /messages/users
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())

	users, err := h.Store.ListUsersExcept(r.Context(), userID)
	if err != nil {
		log.Printf("[GET /messages/users] ❌ Database error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("[GET /messages/users] ✅ Returned %d users for user=%s", len(users), userID)
	writeJSON(w, http.StatusOK, users)
}

// GetMessages handles GET /messages/{peerId}
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	peerID := mux.Vars(r)["peerId"]

	msgs, err := h.Store.Conversation(r.Context(), userID, peerID)
	if err != nil {
		log.Printf("[GET /messages/%s] ❌ Database error: %v", peerID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("[GET /messages/%s] ✅ Returned %d messages for user=%s", peerID, len(msgs), userID)
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessage handles POST /messages/send/{peerId}
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	peerID := mux.Vars(r)["peerId"]
	route := "[POST /messages/send/" + peerID + "]"

	// リクエストボディサイズを1MBに制限
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("%s ❌ Bad Request: %v", route, err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		log.Printf("%s ❌ Bad Request: missing or empty text", route)
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if !h.checkPeer(w, r, route, peerID) {
		return
	}
	release, ok := h.claimIdempotencyKey(w, r, route, userID)
	if !ok {
		return
	}

	h.persistAndDeliver(w, r, route, "text", release, model.Message{
		SenderID:   userID,
		ReceiverID: peerID,
		Text:       req.Text,
	})
}

// MarkSeen handles POST /messages/mark-seen
func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req model.MarkSeenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[POST /messages/mark-seen] ❌ Bad Request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	n, err := h.Store.MarkSeen(r.Context(), userID, req.MessageIDs)
	if err != nil {
		log.Printf("[POST /messages/mark-seen] ❌ Database error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if n > 0 {
		metrics.MessagesSeen.Add(float64(n))
		// 永続化済みなのでプッシュ失敗はレスポンスに影響しない
		pushed, err := h.Router.OnMessagesMarkedSeen(r.Context(), userID, req.MessageIDs)
		if err != nil {
			log.Printf("[POST /messages/mark-seen] ⚠️ Failed to load seen messages for push: %v", err)
		} else {
			log.Printf("[POST /messages/mark-seen] Queued %d messageSeen pushes", pushed)
		}
	}

	log.Printf("[POST /messages/mark-seen] ✅ user=%s updated=%d of %d", userID, n, len(req.MessageIDs))
	writeJSON(w, http.StatusOK, model.MarkSeenResponse{Success: true, UpdatedCount: n})
}

// checkPeer rejects sends to users that do not exist.
func (h *Handler) checkPeer(w http.ResponseWriter, r *http.Request, route, peerID string) bool {
	ok, err := h.Store.UserExists(r.Context(), peerID)
	if err != nil {
		log.Printf("%s ❌ Database error: %v", route, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return false
	}
	if !ok {
		log.Printf("%s ❌ Unknown peer", route)
		writeError(w, http.StatusNotFound, "User not found")
		return false
	}
	return true
}

// claimIdempotencyKey returns ok=false after answering 409 when the caller
// already used the request's Idempotency-Key. release gives the key back and
// must be called when the request fails before anything is persisted.
func (h *Handler) claimIdempotencyKey(w http.ResponseWriter, r *http.Request, route, userID string) (release func(), ok bool) {
	noop := func() {}
	key := r.Header.Get(IdempotencyHeader)
	if key == "" || h.Idem == nil {
		return noop, true
	}

	scoped := userID + ":" + key
	claimed, err := h.Idem.PutNX(r.Context(), scoped, h.Config.IdempotencyTTL)
	if err != nil {
		// キーストア障害時は送信を優先する
		log.Printf("%s ⚠️ Idempotency store error: %v", route, err)
		return noop, true
	}
	if !claimed {
		log.Printf("%s ❌ Duplicate request key=%s", route, key)
		writeError(w, http.StatusConflict, "Duplicate request")
		return noop, false
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if err := h.Idem.Release(ctx, scoped); err != nil {
			log.Printf("%s ⚠️ Failed to release idempotency key=%s: %v", route, key, err)
		}
	}, true
}

func (h *Handler) persistAndDeliver(w http.ResponseWriter, r *http.Request, route, kind string, release func(), msg model.Message) {
	created, err := h.Store.CreateMessage(r.Context(), msg)
	if err != nil {
		release()
		if errors.Is(err, model.ErrValidation) {
			log.Printf("%s ❌ Bad Request: %v", route, err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("%s ❌ Database error: %v", route, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	metrics.MessagesCreated.WithLabelValues(kind).Inc()

	pushed := h.Router.OnMessageCreated(r.Context(), created)

	log.Printf("%s ✅ Created message: ID=%s, kind=%s, pushed=%v", route, created.ID, kind, pushed)
	writeJSON(w, http.StatusCreated, created)
}

// ServeAttachment streams a stored image or document.
func (h *Handler) ServeAttachment(folder string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		rc, contentType, err := h.Blobs.Open(r.Context(), folder+"/"+name)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				writeError(w, http.StatusNotFound, "File not found")
				return
			}
			log.Printf("[GET /%s/%s] ❌ Blob store error: %v", folder, name, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		defer rc.Close()

		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		if folder == documentFolder {
			w.Header().Set("Content-Disposition", `inline; filename="`+name+`"`)
		}
		if _, err := io.Copy(w, rc); err != nil {
			log.Printf("[GET /%s/%s] ⚠️ Stream interrupted: %v", folder, name, err)
		}
	}
}
