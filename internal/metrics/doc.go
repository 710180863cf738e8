// Package metrics exposes Prometheus counters and gauges for the watcher.
//
// All recording methods are safe to call on a nil *Metrics so components can
// be constructed without a registry in tests and when the endpoint is disabled.
package metrics
