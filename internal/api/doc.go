// Package api provides the REST transport used to reach the remote store.
//
// The remote store is a PostgREST endpoint (Supabase):
//   - Event log:  GET  /rest/v1/logs
//   - Lease rows: POST/PATCH/GET /rest/v1/daily_job_runs
//   - Reports:    POST /rest/v1/daily_*
//
// Every request goes through Client.Send, which retries network failures and
// 429/5xx responses with exponential backoff and jitter, and makes one direct
// attempt without any proxy when the configured proxy refuses the tunnel.
// Failures are typed: *TransientError, *PermanentError, *ConflictError.
package api
