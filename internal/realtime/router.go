package realtime

import (
	"context"
	"log"

	"duochat/internal/events"
	"duochat/internal/metrics"
	"duochat/internal/model"
	"duochat/internal/presence"
)

// Pusher delivers an event to a live connection, fire and forget.
type Pusher interface {
	Send(connID, event string, payload any) bool
}

// MessageSource fetches persisted messages by id.
type MessageSource interface {
	MessagesByID(ctx context.Context, ids []string) ([]model.Message, error)
}

// Router turns persistence results into push events. Pushes are best effort:
// a recipient that is not online is skipped and will see the change on its
// next history fetch.
type Router struct {
	registry *presence.Registry
	pusher   Pusher
	messages MessageSource
	events   events.Publisher
}

// NewRouter wires the router. A nil publisher discards lifecycle events.
func NewRouter(registry *presence.Registry, pusher Pusher, messages MessageSource, pub events.Publisher) *Router {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Router{registry: registry, pusher: pusher, messages: messages, events: pub}
}

// OnMessageCreated pushes newMessage to the receiver when online and reports
// whether a push was queued.
func (r *Router) OnMessageCreated(ctx context.Context, msg model.Message) bool {
	if err := r.events.Publish(ctx, events.MessageCreated, msg.ID, msg); err != nil {
		log.Printf("[Router] ⚠️ Failed to publish %s for message=%s: %v", events.MessageCreated, msg.ID, err)
	}
	return r.push(msg.ReceiverID, model.EventNewMessage, msg)
}

// OnMessagesMarkedSeen pushes messageSeen to both parties of every message in
// ids that readerID received and has now seen. It returns the number of
// pushes queued.
func (r *Router) OnMessagesMarkedSeen(ctx context.Context, readerID string, ids []string) (int, error) {
	msgs, err := r.messages.MessagesByID(ctx, ids)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, m := range msgs {
		if m.ReceiverID != readerID || !m.Seen {
			continue
		}
		if err := r.events.Publish(ctx, events.MessageSeen, m.ID, m); err != nil {
			log.Printf("[Router] ⚠️ Failed to publish %s for message=%s: %v", events.MessageSeen, m.ID, err)
		}
		if r.push(m.ReceiverID, model.EventMessageSeen, m) {
			pushed++
		}
		if m.SenderID != m.ReceiverID && r.push(m.SenderID, model.EventMessageSeen, m) {
			pushed++
		}
	}
	return pushed, nil
}

func (r *Router) push(userID, event string, payload any) bool {
	connID, ok := r.registry.Lookup(userID)
	if !ok {
		metrics.Pushes.WithLabelValues(event, "miss").Inc()
		return false
	}
	return r.pusher.Send(connID, event, payload)
}
