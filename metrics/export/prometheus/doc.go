// Package prometheus provides Prometheus collectors for authstate metrics.
//
// [NewPrometheusExporter] accepts an [authstate.Manager] and exposes an [http.Handler]
// that renders all authstate counters and histograms in Prometheus text exposition
// format. Counter names are prefixed authstate_*_total; the single histogram is
// authstate_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate manager state.
package prometheus
