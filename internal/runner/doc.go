// Package runner drives the daily computation.
//
// A run:
//   - acquires today's lease and exits as "skipped" when another run owns the day
//   - prefetches every event type the jobs read for the analysis window
//   - runs the report jobs in order, stopping at the first failure
//   - records ok or failed on the lease, even when a job panicked
//   - pushes the run's metrics when a Pushgateway is configured
//
// Scheduler repeats runs on an interval for long-lived deployments. Each
// run starts from fresh collaborators so no cache outlives it.
package runner
