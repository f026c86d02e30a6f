package handler

import (
	"errors"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"duochat/internal/auth"
	"duochat/internal/model"
)

const (
	imageFolder    = "images"
	documentFolder = "uploads"
)

// attachment describes one upload endpoint.
type attachment struct {
	field   string
	folder  string
	kind    string
	exts    map[string]bool
	types   map[string]bool
	missing string
	reject  string
	attach  func(msg *model.Message, name string)
}

var imageAttachment = attachment{
	field:  "image",
	folder: imageFolder,
	kind:   "image",
	exts: map[string]bool{
		".jpeg": true, ".jpg": true, ".png": true, ".gif": true, ".webp": true,
	},
	types: map[string]bool{
		"image/jpeg": true, "image/jpg": true, "image/png": true, "image/gif": true, "image/webp": true,
	},
	missing: "No image file uploaded",
	reject:  "Only images are allowed",
	attach:  func(msg *model.Message, name string) { msg.Image = "/" + imageFolder + "/" + name },
}

var documentAttachment = attachment{
	field:   "pdf",
	folder:  documentFolder,
	kind:    "document",
	exts:    map[string]bool{".pdf": true},
	types:   map[string]bool{"application/pdf": true},
	missing: "No PDF file uploaded",
	reject:  "Only PDFs are allowed",
	attach:  func(msg *model.Message, name string) { msg.Document = documentFolder + "/" + name },
}

// SendImage handles POST /messages/send-image/{peerId}
func (h *Handler) SendImage(w http.ResponseWriter, r *http.Request) {
	h.sendAttachment(w, r, imageAttachment)
}

// SendPDF handles POST /messages/send-pdf/{peerId}
func (h *Handler) SendPDF(w http.ResponseWriter, r *http.Request) {
	h.sendAttachment(w, r, documentAttachment)
}

func (h *Handler) sendAttachment(w http.ResponseWriter, r *http.Request, a attachment) {
	userID, _ := auth.UserFromContext(r.Context())
	peerID := mux.Vars(r)["peerId"]
	route := "[POST " + r.URL.Path + "]"

	limit := h.Config.MaxUploadBytes
	// multipart のヘッダー分の余裕を持たせる
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Printf("%s ❌ Upload too large", route)
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		log.Printf("%s ❌ Bad Request: %v", route, err)
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(a.field)
	if err != nil {
		log.Printf("%s ❌ Bad Request: %v", route, err)
		writeError(w, http.StatusBadRequest, a.missing)
		return
	}
	defer file.Close()

	if header.Size > limit {
		log.Printf("%s ❌ Upload too large: %d bytes", route, header.Size)
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if !a.exts[ext] || !a.types[contentType] {
		log.Printf("%s ❌ Rejected upload name=%q type=%q", route, header.Filename, contentType)
		writeError(w, http.StatusBadRequest, a.reject)
		return
	}

	if !h.checkPeer(w, r, route, peerID) {
		return
	}
	release, ok := h.claimIdempotencyKey(w, r, route, userID)
	if !ok {
		return
	}

	name := uuid.NewString() + ext
	if err := h.Blobs.Put(r.Context(), a.folder+"/"+name, contentType, file, header.Size); err != nil {
		release()
		log.Printf("%s ❌ Blob store error: %v", route, err)
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	msg := model.Message{SenderID: userID, ReceiverID: peerID}
	a.attach(&msg, name)
	h.persistAndDeliver(w, r, route, a.kind, release, msg)
}
