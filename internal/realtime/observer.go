package realtime

import (
	"github.com/docusign-alternative/platform/realtime-service/internal/registry"
	"github.com/docusign-alternative/platform/realtime-service/pkg/metrics"
)

// MetricsObserver feeds registry lifecycle notifications into the Prometheus
// collectors.
type MetricsObserver struct{}

func (MetricsObserver) ConnectionAdded(c *registry.Connection) {
	metrics.ConnectionsActive.WithLabelValues(string(c.Transport())).Inc()
	metrics.ConnectionsTotal.WithLabelValues(string(c.Transport())).Inc()
}

func (MetricsObserver) ConnectionRemoved(c *registry.Connection) {
	metrics.ConnectionsActive.WithLabelValues(string(c.Transport())).Dec()
}
