// Package prometheus exposes engine counters as a prometheus.Collector.
//
// Counter names are authgate_*_total; the single histogram is
// authgate_login_latency_seconds. [Collector.Handler] serves a private
// registry so callers can mount it without touching the global one.
package prometheus
