// Package prometheus renders goSession engine metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goSession.Engine] and exposes an
// [http.Handler]. Counter names are gosession_*_total; the single histogram is
// gosession_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
