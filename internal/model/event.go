package model

import "encoding/json"

// Live connection event names
const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
	EventMessageSeen = "messageSeen"
)

// Frame is the envelope of every live connection message in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewFrame encodes payload into a frame.
func NewFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}
