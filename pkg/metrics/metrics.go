package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "realtime", Name: "connections_active", Help: "Live connections by transport."},
		[]string{"transport"},
	)
	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "realtime", Name: "connections_total", Help: "Connections accepted since start, by transport."},
		[]string{"transport"},
	)
	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "realtime", Name: "events_emitted_total", Help: "Events emitted by type."},
		[]string{"type"},
	)
	EventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "realtime", Name: "events_delivered_total", Help: "Per-connection event deliveries."},
	)
	ConflictsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "realtime", Name: "conflicts_detected_total", Help: "Field conflicts detected."},
	)
	ResolutionsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "realtime", Name: "resolutions_applied_total", Help: "Conflict resolutions by strategy."},
		[]string{"strategy"},
	)
	PublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "realtime", Name: "publish_failures_total", Help: "Failed cross-instance publishes."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "realtime", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "realtime", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(ConnectionsActive)
	reg.MustRegister(ConnectionsTotal)
	reg.MustRegister(EventsEmitted)
	reg.MustRegister(EventsDelivered)
	reg.MustRegister(ConflictsDetected)
	reg.MustRegister(ResolutionsApplied)
	reg.MustRegister(PublishFailures)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
