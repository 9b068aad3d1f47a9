package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ntetris server
type Metrics struct {
	// UDP datagram metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	PacketsDropped   prometheus.Counter
	ValidationErrors *prometheus.CounterVec
	RepliesSent      *prometheus.CounterVec
	SendErrors       prometheus.Counter
	QueueSize        prometheus.Gauge
	HandleDuration   prometheus.Histogram

	// Player metrics
	ActivePlayers     prometheus.Gauge
	RetiredPlayerIDs  prometheus.Gauge
	PlayersRegistered prometheus.Counter
	PlayersKicked     *prometheus.CounterVec
	PlayersExpired    prometheus.Counter
	SessionDuration   prometheus.Histogram

	// Sweeper metrics
	SweepDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	EventSubscribers    prometheus.Gauge
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP datagram metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "ntetris_packets_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ntetris_packets_processed_total",
			Help: "Total number of UDP datagrams handled by a worker",
		}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ntetris_packets_dropped_total",
			Help: "Total number of datagrams dropped because the work queue was full",
		}),
		ValidationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ntetris_validation_errors_total",
			Help: "Total number of datagrams rejected by validation",
		}, []string{"reason"}),
		RepliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ntetris_replies_sent_total",
			Help: "Total number of datagrams written to clients",
		}, []string{"type"}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ntetris_send_errors_total",
			Help: "Total number of failed datagram writes",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ntetris_packet_queue_size",
			Help: "Current number of jobs in the worker queue",
		}),
		HandleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ntetris_handle_duration_seconds",
			Help:    "Time spent handling one datagram",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us to ~160ms
		}),

		// Player metrics
		ActivePlayers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ntetris_active_players",
			Help: "Current number of registered players",
		}),
		RetiredPlayerIDs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ntetris_retired_player_ids",
			Help: "Number of player ids withheld from reuse",
		}),
		PlayersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "ntetris_players_registered_total",
			Help: "Total number of successful registrations",
		}),
		PlayersKicked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ntetris_players_kicked_total",
			Help: "Total number of players removed by disconnect or operator kick",
		}, []string{"cause"}),
		PlayersExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "ntetris_players_expired_total",
			Help: "Total number of players evicted by the expiry sweeper",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ntetris_session_duration_seconds",
			Help:    "Time between registration and removal of a player",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Sweeper metrics
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ntetris_sweep_duration_seconds",
			Help:    "Time spent in one expiry sweep",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ntetris_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ntetris_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ntetris_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ntetris_event_subscribers",
			Help: "Current number of websocket event subscribers",
		}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed records a handled datagram and its handling time
func (m *Metrics) RecordPacketProcessed(durationSeconds float64) {
	m.PacketsProcessed.Inc()
	m.HandleDuration.Observe(durationSeconds)
}

// RecordPacketDropped increments the dropped datagrams counter
func (m *Metrics) RecordPacketDropped() {
	m.PacketsDropped.Inc()
}

// RecordValidationError counts a rejected datagram by error code name
func (m *Metrics) RecordValidationError(reason string) {
	m.ValidationErrors.WithLabelValues(reason).Inc()
}

// RecordReply counts a datagram written to a client by message type name
func (m *Metrics) RecordReply(msgType string) {
	m.RepliesSent.WithLabelValues(msgType).Inc()
}

// RecordSendError increments the send errors counter
func (m *Metrics) RecordSendError() {
	m.SendErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActivePlayers sets the current number of registered players
func (m *Metrics) SetActivePlayers(count int) {
	m.ActivePlayers.Set(float64(count))
}

// SetRetiredPlayerIDs sets the size of the retired id set
func (m *Metrics) SetRetiredPlayerIDs(count int) {
	m.RetiredPlayerIDs.Set(float64(count))
}

// RecordPlayerRegistered increments the registrations counter
func (m *Metrics) RecordPlayerRegistered() {
	m.PlayersRegistered.Inc()
}

// RecordPlayerKicked records a removal and the session length.
// cause is "disconnect" or "operator".
func (m *Metrics) RecordPlayerKicked(cause string, sessionSeconds float64) {
	m.PlayersKicked.WithLabelValues(cause).Inc()
	m.SessionDuration.Observe(sessionSeconds)
}

// RecordPlayerExpired records an eviction by the sweeper and the session length
func (m *Metrics) RecordPlayerExpired(sessionSeconds float64) {
	m.PlayersExpired.Inc()
	m.SessionDuration.Observe(sessionSeconds)
}

// RecordSweep records the duration of one expiry sweep
func (m *Metrics) RecordSweep(durationSeconds float64) {
	m.SweepDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetEventSubscribers sets the current number of websocket subscribers
func (m *Metrics) SetEventSubscribers(count int) {
	m.EventSubscribers.Set(float64(count))
}
