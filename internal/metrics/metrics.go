// Package metrics exposes Prometheus collectors for the realtime core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections counts open live connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duochat_ws_connections",
		Help: "Open live connections.",
	})

	// OnlineUsers counts users present in the registry.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duochat_online_users",
		Help: "Users bound to a live connection.",
	})

	// Pushes counts push attempts by event and result (sent, dropped, miss).
	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duochat_pushes_total",
		Help: "Push events by event name and result.",
	}, []string{"event", "result"})

	// MessagesCreated counts persisted messages by kind.
	MessagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duochat_messages_created_total",
		Help: "Messages persisted by kind (text, image, document).",
	}, []string{"kind"})

	// MessagesSeen counts rows flipped to seen.
	MessagesSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duochat_messages_seen_total",
		Help: "Messages marked seen.",
	})

	// InboundFrames counts client frames by event and outcome.
	InboundFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duochat_inbound_frames_total",
		Help: "Client to server frames by event and outcome.",
	}, []string{"event", "outcome"})
)
