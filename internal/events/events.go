// Package events publishes message lifecycle events to an external stream.
package events

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event kinds
const (
	MessageCreated = "message.created"
	MessageSeen    = "message.seen"
)

// Publisher accepts lifecycle events. Implementations must not block the caller
// on broker availability.
type Publisher interface {
	Publish(ctx context.Context, kind, key string, payload any) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish drops the event.
func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }

// Kafka writes events to "<prefix>.<kind>" topics.
type Kafka struct {
	w      *kafka.Writer
	prefix string
}

// NewKafka returns an asynchronous Kafka publisher. With no brokers it returns Nop.
func NewKafka(brokers []string, prefix string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Printf("[Kafka] ❌ Failed to deliver %d events: %v", len(msgs), err)
			}
		},
	}
	log.Printf("[Kafka] Publishing events to %s with prefix %q", strings.Join(brokers, ","), prefix)
	return &Kafka{w: w, prefix: prefix}
}

// Publish encodes payload as JSON keyed by key.
func (k *Kafka) Publish(ctx context.Context, kind, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Topic: k.topic(kind),
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}

func (k *Kafka) topic(kind string) string {
	if k.prefix == "" {
		return kind
	}
	return k.prefix + "." + kind
}

func (k *Kafka) Close() error { return k.w.Close() }
