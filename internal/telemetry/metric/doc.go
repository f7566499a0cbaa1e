// Package metric provides Prometheus metrics for RollMesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: registry, session/network/relay/storage metrics and
//     the HTTP handler
//   - collector.go: a collector that samples live session state on scrape
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
