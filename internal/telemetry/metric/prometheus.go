package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "rollmesh"

// Options configures a Registry.
type Options struct {
	Namespace   string
	ConstLabels prometheus.Labels
	// RuntimeCollectors adds Go runtime and process metrics.
	RuntimeCollectors bool
}

// Option configures a Registry.
type Option func(*Options)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(o *Options) {
		o.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *Options) {
		o.ConstLabels = labels
	}
}

// WithoutRuntimeCollectors skips the Go runtime and process collectors.
func WithoutRuntimeCollectors() Option {
	return func(o *Options) {
		o.RuntimeCollectors = false
	}
}

// rollbackDepthBuckets covers depths up to a generous prediction window.
var rollbackDepthBuckets = []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12, 16}

// Registry holds all application metrics on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	// Session metrics
	FramesAdvanced    prometheus.Counter
	Stalls            *prometheus.CounterVec
	Rollbacks         prometheus.Counter
	RollbackDepth     prometheus.Histogram
	ResimulatedFrames prometheus.Counter
	Desyncs           prometheus.Counter
	PeerEvents        *prometheus.CounterVec
	PeerRTT           *prometheus.GaugeVec
	SessionAborts     prometheus.Counter

	// Network metrics
	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec

	// Relay metrics
	RelayConnections prometheus.Gauge
	RelayFrames      *prometheus.CounterVec
	RelayDropped     *prometheus.CounterVec

	// Storage metrics
	SavesWritten    prometheus.Counter
	JournalFrames   prometheus.Counter
	JournalFailures prometheus.Counter
}

// NewRegistry creates a registry with every RollMesh metric registered.
func NewRegistry(opts ...Option) *Registry {
	o := Options{Namespace: DefaultNamespace, RuntimeCollectors: true}
	for _, opt := range opts {
		opt(&o)
	}

	reg := prometheus.NewRegistry()
	if o.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: o.Namespace, Name: name, Help: help, ConstLabels: o.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.Namespace, Name: name, Help: help, ConstLabels: o.ConstLabels,
		}, labels)
	}

	return &Registry{
		registry: reg,

		FramesAdvanced: counter("frames_advanced_total", "Frames advanced with local input"),
		Stalls:         counterVec("stalls_total", "AdvanceFrame calls that did not advance", "reason"),
		Rollbacks:      counter("rollbacks_total", "Rollbacks performed"),
		RollbackDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   o.Namespace,
			Name:        "rollback_depth_frames",
			Help:        "Frames replayed per rollback",
			ConstLabels: o.ConstLabels,
			Buckets:     rollbackDepthBuckets,
		}),
		ResimulatedFrames: counter("resimulated_frames_total", "Frames replayed during rollbacks"),
		Desyncs:           counter("desyncs_total", "State digest mismatches detected"),
		PeerEvents:        counterVec("peer_events_total", "Peer roster changes", "kind"),
		PeerRTT: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   o.Namespace,
			Name:        "peer_rtt_seconds",
			Help:        "Smoothed round-trip time per peer",
			ConstLabels: o.ConstLabels,
		}, []string{"peer"}),
		SessionAborts: counter("session_aborts_total", "Sessions aborted on a fatal condition"),

		PacketsSent:     counterVec("packets_sent_total", "Packets sent by kind", "kind"),
		PacketsReceived: counterVec("packets_received_total", "Packets received by kind", "kind"),
		PacketsDropped:  counterVec("packets_dropped_total", "Inbound packets discarded", "reason"),

		RelayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   o.Namespace,
			Name:        "relay_connections",
			Help:        "Open relay websocket connections",
			ConstLabels: o.ConstLabels,
		}),
		RelayFrames:  counterVec("relay_frames_total", "Frames forwarded by the relay", "direction"),
		RelayDropped: counterVec("relay_dropped_total", "Frames dropped by the relay", "reason"),

		SavesWritten:    counter("saves_written_total", "Game saves written"),
		JournalFrames:   counter("journal_frames_total", "Confirmed frames written to the journal"),
		JournalFailures: counter("journal_failures_total", "Journal writes that failed"),
	}
}

// NewNop returns a registry without runtime collectors, for tests and
// embedders that do not expose metrics.
func NewNop() *Registry {
	return NewRegistry(WithoutRuntimeCollectors())
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Register adds an extra collector to the registry.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.registry.Register(c)
}

// Unregister removes a collector added with Register.
func (r *Registry) Unregister(c prometheus.Collector) bool {
	return r.registry.Unregister(c)
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordFrame counts an advanced frame.
func (r *Registry) RecordFrame() {
	r.FramesAdvanced.Inc()
}

// RecordStall counts a stalled AdvanceFrame call.
func (r *Registry) RecordStall(reason string) {
	r.Stalls.WithLabelValues(reason).Inc()
}

// RecordRollback records one rollback replaying depth frames.
func (r *Registry) RecordRollback(depth int) {
	r.Rollbacks.Inc()
	r.RollbackDepth.Observe(float64(depth))
	r.ResimulatedFrames.Add(float64(depth))
}

// RecordDesync counts a detected desync.
func (r *Registry) RecordDesync() {
	r.Desyncs.Inc()
}

// RecordPeerEvent counts a roster change.
func (r *Registry) RecordPeerEvent(kind string) {
	r.PeerEvents.WithLabelValues(kind).Inc()
}

// SetPeerRTT updates a peer's round-trip gauge.
func (r *Registry) SetPeerRTT(peer string, seconds float64) {
	r.PeerRTT.WithLabelValues(peer).Set(seconds)
}

// DeletePeer removes per-peer series.
func (r *Registry) DeletePeer(peer string) {
	r.PeerRTT.DeleteLabelValues(peer)
}

// RecordAbort counts an aborted session.
func (r *Registry) RecordAbort() {
	r.SessionAborts.Inc()
}

// RecordPacketSent counts an outbound packet.
func (r *Registry) RecordPacketSent(kind string) {
	r.PacketsSent.WithLabelValues(kind).Inc()
}

// RecordPacketReceived counts an inbound packet.
func (r *Registry) RecordPacketReceived(kind string) {
	r.PacketsReceived.WithLabelValues(kind).Inc()
}

// RecordPacketDropped counts a discarded inbound packet.
func (r *Registry) RecordPacketDropped(reason string) {
	r.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordRelayFrame counts a frame through the relay ("in" or "out").
func (r *Registry) RecordRelayFrame(direction string) {
	r.RelayFrames.WithLabelValues(direction).Inc()
}

// RecordRelayDropped counts a frame the relay refused.
func (r *Registry) RecordRelayDropped(reason string) {
	r.RelayDropped.WithLabelValues(reason).Inc()
}

// RecordSave counts a written game save.
func (r *Registry) RecordSave() {
	r.SavesWritten.Inc()
}

// RecordJournal counts a journal write.
func (r *Registry) RecordJournal(err error) {
	if err != nil {
		r.JournalFailures.Inc()
		return
	}
	r.JournalFrames.Inc()
}

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Global returns the process-wide registry used by the binaries.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// Handler returns an HTTP handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}
