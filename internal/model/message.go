package model

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrValidation marks requests rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks unknown peers or message ids.
	ErrNotFound = errors.New("not found")
)

// Message represents a direct message between two users
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Image      string    `json:"image,omitempty"`
	Document   string    `json:"document,omitempty"`
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HasContent reports whether at least one of text, image or document is set.
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || m.Image != "" || m.Document != ""
}

// Involves reports whether the message belongs to the conversation with peerID.
func (m Message) Involves(peerID string) bool {
	return m.SenderID == peerID || m.ReceiverID == peerID
}

// User is the sidebar projection of an account
type User struct {
	ID         string    `json:"id"`
	FullName   string    `json:"fullName"`
	Email      string    `json:"email"`
	ProfilePic string    `json:"profilePic"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MarkSeenRequest is the body of POST /messages/mark-seen
type MarkSeenRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// MarkSeenResponse reports how many records flipped to seen
type MarkSeenResponse struct {
	Success      bool  `json:"success"`
	UpdatedCount int64 `json:"updatedCount"`
}
