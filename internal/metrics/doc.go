// Package metrics provides Prometheus metrics for a daily run.
//
// Key metrics:
//   - REST request counts by method and outcome, retry counts
//   - Event rows read from the log and rows written to sinks
//   - Per-job durations
//   - Lease decisions by outcome and backend
//
// Each run owns its own registry. A batch process exits before any scrape,
// so the registry is pushed to a Pushgateway when one is configured.
package metrics
