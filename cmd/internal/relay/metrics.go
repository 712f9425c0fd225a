package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tracker_relay"

// Event sources for the events_total metric.
const (
	SourceClient = "client"
	SourceNotify = "notify"
	SourceRemote = "remote"
)

// Metrics holds the relay's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionsActive prometheus.Gauge
	groupsActive      prometheus.Gauge
	admissions        prometheus.Counter
	removals          prometheus.Counter
	authRejections    *prometheus.CounterVec

	// Labels: kind, source (client|notify|remote).
	events         *prometheus.CounterVec
	deliveries     prometheus.Counter
	deliveryDrops  *prometheus.CounterVec
	rejectedFrames *prometheus.CounterVec

	backplanePublishFailures prometheus.Counter
}

// NewMetrics registers the relay collectors with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of admitted, live connections",
		}),
		groupsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "user_groups_active",
			Help:      "Number of users with at least one live connection",
		}),
		admissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "admissions_total",
			Help:      "Total number of connections admitted to a user group",
		}),
		removals: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "removals_total",
			Help:      "Total number of connections removed from a user group",
		}),
		authRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_rejections_total",
			Help:      "Total number of handshakes refused by the token verifier",
		}, []string{"reason"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Total number of lifecycle events accepted for fan-out",
		}, []string{"kind", "source"}),
		deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Total number of frames enqueued to sibling connections",
		}),
		deliveryDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_drops_total",
			Help:      "Total number of sibling deliveries dropped",
		}, []string{"reason"}),
		rejectedFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejected_frames_total",
			Help:      "Total number of inbound frames rejected without relay",
		}, []string{"code"}),
		backplanePublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backplane_publish_failures_total",
			Help:      "Total number of failed backplane publishes",
		}),
	}
}

func (m *Metrics) observeRegistry(r *Registry) {
	if m == nil {
		return
	}
	m.connectionsActive.Set(float64(r.Len()))
	m.groupsActive.Set(float64(r.Users()))
}

func (m *Metrics) admitted() {
	if m != nil {
		m.admissions.Inc()
	}
}

func (m *Metrics) removed() {
	if m != nil {
		m.removals.Inc()
	}
}

func (m *Metrics) authRejected(reason string) {
	if m != nil {
		m.authRejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) event(kind, source string) {
	if m != nil {
		m.events.WithLabelValues(kind, source).Inc()
	}
}

func (m *Metrics) delivered(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(float64(n))
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.deliveryDrops.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) rejected(code string) {
	if m != nil {
		m.rejectedFrames.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) backplaneFailed() {
	if m != nil {
		m.backplanePublishFailures.Inc()
	}
}
