package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics tracks the TWS listener and session activity.
type GatewayMetrics struct {
	activeSessions     prometheus.Gauge
	sessionsTotal      prometheus.Counter
	rejectedTotal      prometheus.Counter
	messagesTotal      *prometheus.CounterVec
	broadcastsTotal    prometheus.Counter
	rateLimitTotal     prometheus.Counter
	errorsTotal        *prometheus.CounterVec
	ordersTotal        *prometheus.CounterVec
	handshakeDuration  prometheus.Histogram
}

// NewGatewayMetrics creates the gateway metric set. Returns nil if metrics
// are not enabled (InitRegistry not called).
func NewGatewayMetrics() *GatewayMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &GatewayMetrics{
		activeSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ibsim_active_sessions",
			Help: "Number of currently connected API clients",
		}),
		sessionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ibsim_sessions_total",
			Help: "Total number of accepted client connections",
		}),
		rejectedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ibsim_sessions_rejected_total",
			Help: "Connections closed because the client cap was reached",
		}),
		messagesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ibsim_messages_total",
			Help: "Inbound messages by message kind",
		}, []string{"kind"}),
		broadcastsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ibsim_broadcasts_total",
			Help: "Tick broadcasts fanned out to subscribers",
		}),
		rateLimitTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ibsim_rate_limited_total",
			Help: "Messages rejected by the per-client rate limiter",
		}),
		errorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ibsim_errors_total",
			Help: "Error frames sent to clients by error code",
		}, []string{"code"}),
		ordersTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ibsim_orders_total",
			Help: "Order lifecycle transitions by status",
		}, []string{"status"}),
		handshakeDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ibsim_handshake_duration_seconds",
			Help:    "Time from accept to completed handshake",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *GatewayMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *GatewayMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *GatewayMetrics) SessionRejected() {
	if m == nil {
		return
	}
	m.rejectedTotal.Inc()
}

func (m *GatewayMetrics) MessageReceived(kind string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(kind).Inc()
}

func (m *GatewayMetrics) BroadcastSent() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

func (m *GatewayMetrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitTotal.Inc()
}

func (m *GatewayMetrics) ErrorSent(code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(code).Inc()
}

func (m *GatewayMetrics) OrderTransition(status string) {
	if m == nil {
		return
	}
	m.ordersTotal.WithLabelValues(status).Inc()
}

func (m *GatewayMetrics) HandshakeCompleted(seconds float64) {
	if m == nil {
		return
	}
	m.handshakeDuration.Observe(seconds)
}
