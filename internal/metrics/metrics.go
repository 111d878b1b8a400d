package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for relay metrics collection
type Collector interface {
	// Channel metrics
	ChannelConnected(transport string)
	ChannelDisconnected(transport string)
	ChannelDropped(transport, reason string)

	// Room metrics
	RoomOpened()
	RoomClosed()
	MembershipChanged(role string, delta int)

	// Message metrics
	MessageReceived(messageType string)
	MessageRejected(messageType, reason string)
	SignalRelayed(kind string, recipients int)

	// Poll session metrics
	PollSessionOpened()
	PollSessionClosed(reaped bool)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler
}

// PrometheusCollector implements the Collector interface using Prometheus
type PrometheusCollector struct {
	gatherer prometheus.Gatherer

	// Channel metrics
	activeChannels *prometheus.GaugeVec
	connections    *prometheus.CounterVec
	drops          *prometheus.CounterVec

	// Room metrics
	activeRooms prometheus.Gauge
	members     *prometheus.GaugeVec

	// Message metrics
	messagesReceived *prometheus.CounterVec
	messagesRejected *prometheus.CounterVec
	signalsRelayed   *prometheus.CounterVec
	signalFanout     prometheus.Histogram

	// Poll session metrics
	pollSessions prometheus.Gauge
	pollReaped   prometheus.Counter
}

// NewPrometheusCollector creates a collector registered on reg. Pass
// prometheus.NewRegistry() to keep collectors independent.
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		gatherer: reg,

		// Channel metrics
		activeChannels: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tastecast_active_channels",
				Help: "Number of connected channels",
			},
			[]string{"transport"},
		),

		connections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tastecast_channel_connections_total",
				Help: "Total number of channel connections",
			},
			[]string{"transport"},
		),

		drops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tastecast_channel_drops_total",
				Help: "Total number of channels dropped by the relay",
			},
			[]string{"transport", "reason"},
		),

		// Room metrics
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tastecast_active_rooms",
			Help: "Number of rooms with at least one member",
		}),

		members: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tastecast_room_members",
				Help: "Number of room memberships by role",
			},
			[]string{"role"},
		),

		// Message metrics
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tastecast_messages_received_total",
				Help: "Total number of messages received from channels",
			},
			[]string{"message_type"},
		),

		messagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tastecast_messages_rejected_total",
				Help: "Total number of messages answered with an error",
			},
			[]string{"message_type", "reason"},
		),

		signalsRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tastecast_signals_relayed_total",
				Help: "Total number of signals relayed",
			},
			[]string{"kind"},
		),

		signalFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tastecast_signal_fanout",
			Help:    "Recipients per relayed signal",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
		}),

		// Poll session metrics
		pollSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tastecast_poll_sessions",
			Help: "Number of open long-polling sessions",
		}),

		pollReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tastecast_poll_sessions_reaped_total",
			Help: "Total number of idle long-polling sessions reaped",
		}),
	}
}

// ChannelConnected records a channel connection
func (c *PrometheusCollector) ChannelConnected(transport string) {
	c.connections.WithLabelValues(transport).Inc()
	c.activeChannels.WithLabelValues(transport).Inc()
}

// ChannelDisconnected records a channel disconnection
func (c *PrometheusCollector) ChannelDisconnected(transport string) {
	c.activeChannels.WithLabelValues(transport).Dec()
}

// ChannelDropped records a channel the relay had to drop
func (c *PrometheusCollector) ChannelDropped(transport, reason string) {
	c.drops.WithLabelValues(transport, reason).Inc()
}

// RoomOpened records a room gaining its first member
func (c *PrometheusCollector) RoomOpened() {
	c.activeRooms.Inc()
}

// RoomClosed records a room losing its last member
func (c *PrometheusCollector) RoomClosed() {
	c.activeRooms.Dec()
}

// MembershipChanged records members joining (delta > 0) or leaving
func (c *PrometheusCollector) MembershipChanged(role string, delta int) {
	c.members.WithLabelValues(role).Add(float64(delta))
}

// MessageReceived records an inbound message
func (c *PrometheusCollector) MessageReceived(messageType string) {
	c.messagesReceived.WithLabelValues(messageType).Inc()
}

// MessageRejected records an inbound message answered with an error
func (c *PrometheusCollector) MessageRejected(messageType, reason string) {
	c.messagesRejected.WithLabelValues(messageType, reason).Inc()
}

// SignalRelayed records a signal delivered to recipients
func (c *PrometheusCollector) SignalRelayed(kind string, recipients int) {
	c.signalsRelayed.WithLabelValues(kind).Inc()
	c.signalFanout.Observe(float64(recipients))
}

// PollSessionOpened records a new long-polling session
func (c *PrometheusCollector) PollSessionOpened() {
	c.pollSessions.Inc()
}

// PollSessionClosed records a long-polling session ending
func (c *PrometheusCollector) PollSessionClosed(reaped bool) {
	c.pollSessions.Dec()
	if reaped {
		c.pollReaped.Inc()
	}
}

// Handler returns an HTTP handler for metrics endpoint
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
