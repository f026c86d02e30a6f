// Package client is the Go counterpart of a chat front end: a REST client
// and a per-connection synchronization controller that keeps a local
// conversation view in step with server pushes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"duochat/internal/model"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// API calls the REST surface with a bearer token.
type API struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewAPI returns a client for baseURL (e.g. http://localhost:8080).
func NewAPI(baseURL, token string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// LiveURL is the websocket endpoint carrying this client's token.
func (a *API) LiveURL() string {
	u := a.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?token=" + url.QueryEscape(a.Token)
}

// ListUsers returns every user except the caller.
func (a *API) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := a.do(ctx, "GET", "/messages/users", nil, "", &users)
	return users, err
}

// Conversation returns the history with peerID, oldest first.
func (a *API) Conversation(ctx context.Context, peerID string) ([]model.Message, error) {
	var msgs []model.Message
	err := a.do(ctx, "GET", "/messages/"+url.PathEscape(peerID), nil, "", &msgs)
	return msgs, err
}

// SendText stores a text message to peerID and returns the server record.
func (a *API) SendText(ctx context.Context, peerID, text string) (model.Message, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return model.Message{}, err
	}
	var msg model.Message
	err = a.do(ctx, "POST", "/messages/send/"+url.PathEscape(peerID), bytes.NewReader(body), "application/json", &msg)
	return msg, err
}

// SendImage uploads r as an image message; the content type follows the filename extension.
func (a *API) SendImage(ctx context.Context, peerID, filename string, r io.Reader) (model.Message, error) {
	return a.upload(ctx, "/messages/send-image/"+url.PathEscape(peerID), "image", filename, r)
}

// SendPDF uploads r as a PDF document message.
func (a *API) SendPDF(ctx context.Context, peerID, filename string, r io.Reader) (model.Message, error) {
	return a.upload(ctx, "/messages/send-pdf/"+url.PathEscape(peerID), "pdf", filename, r)
}

// MarkSeen returns the number of messages the server flipped to seen.
func (a *API) MarkSeen(ctx context.Context, ids []string) (int64, error) {
	body, err := json.Marshal(model.MarkSeenRequest{MessageIDs: ids})
	if err != nil {
		return 0, err
	}
	var resp model.MarkSeenResponse
	if err := a.do(ctx, "POST", "/messages/mark-seen", bytes.NewReader(body), "application/json", &resp); err != nil {
		return 0, err
	}
	return resp.UpdatedCount, nil
}

func (a *API) upload(ctx context.Context, path, field, filename string, r io.Reader) (model.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filepath.Base(filename)))
	hdr.Set("Content-Type", contentType)

	part, err := mw.CreatePart(hdr)
	if err != nil {
		return model.Message{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return model.Message{}, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return model.Message{}, err
	}

	var msg model.Message
	err = a.do(ctx, "POST", path, &buf, mw.FormDataContentType(), &msg)
	return msg, err
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
