// Package metrics records event bus activity.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics stay optional without nil checks at call sites.
// PrometheusRecorder is swapped in when metrics are enabled, and Server
// exposes it on /metrics next to a /healthz readiness probe.
package metrics
