// Package metrics exposes spc-server counters on GET /metrics in the
// Prometheus text format.
//
// Registry implements quality.Notifier, so every recorded data point is
// counted by status and zone, and receiver.FailureCounter for rejected
// ingest points. Families are built as client_model protobufs and written
// with expfmt; no client library registry is involved.
//
//	spc_datapoints_total{status}     counter
//	spc_datapoints_zone_total{zone}  counter
//	spc_ingest_failures_total        counter
//	spc_alerts_active                gauge, read from the alert engine
package metrics
