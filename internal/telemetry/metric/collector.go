package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	Frame             int64
	ConfirmedFrontier int64
	Checkpoints       int
	// PeersByStatus counts roster peers by status name.
	PeersByStatus map[string]int
}

// SnapshotSource is implemented by a running session.
type SnapshotSource interface {
	MetricsSnapshot() Snapshot
}

// Collector samples a session on every scrape. The source must be safe to
// call from the scrape goroutine.
type Collector struct {
	source SnapshotSource

	frame       *prometheus.Desc
	frontier    *prometheus.Desc
	checkpoints *prometheus.Desc
	peers       *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for source.
func NewCollector(namespace string, source SnapshotSource) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Collector{
		source: source,
		frame: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "frame"),
			"Current local frame", nil, nil),
		frontier: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "confirmed_frontier"),
			"Newest frame with every peer's input confirmed", nil, nil),
		checkpoints: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "checkpoints"),
			"Checkpoints currently retained", nil, nil),
		peers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "peers"),
			"Roster peers by status", []string{"status"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frame
	ch <- c.frontier
	ch <- c.checkpoints
	ch <- c.peers
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.MetricsSnapshot()
	ch <- prometheus.MustNewConstMetric(c.frame, prometheus.GaugeValue, float64(s.Frame))
	ch <- prometheus.MustNewConstMetric(c.frontier, prometheus.GaugeValue, float64(s.ConfirmedFrontier))
	ch <- prometheus.MustNewConstMetric(c.checkpoints, prometheus.GaugeValue, float64(s.Checkpoints))
	for status, n := range s.PeersByStatus {
		ch <- prometheus.MustNewConstMetric(c.peers, prometheus.GaugeValue, float64(n), status)
	}
}
