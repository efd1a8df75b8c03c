// internal/chat/metrics.go

package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat request transitions by resulting status",
		},
		[]string{"status"},
	)

	acceptConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_request_accept_conflicts_total",
			Help: "Accept attempts lost to a concurrent acceptor",
		},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Messages appended by type",
		},
		[]string{"type"},
	)

	conversationsEndedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_conversations_ended_total",
			Help: "Conversations closed by a support principal",
		},
	)

	activeChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_channels",
			Help: "Currently open authenticated websocket channels",
		},
	)

	droppedBroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_dropped_broadcasts_total",
			Help: "Events dropped because a channel's send buffer was full",
		},
	)
)
