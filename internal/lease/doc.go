// Package lease guarantees that the daily job runs at most once per UTC day.
//
// A lease is one record per calendar day in a coordination store. The first
// process to insert today's record owns the day. Later processes read the
// existing record and either back off, or take it over when it is failed or
// older than the stale threshold.
//
// Stores:
//   - RESTStore: PostgREST table (the production backend)
//   - PostgresStore: direct table access through pgx
//   - RedisStore: one key per day with SETNX and WATCH transactions
//
// When the store cannot be reached at all, acquisition degrades to a lease
// recorded only in a local JSON file. Degraded leases are reported as
// AcquiredLocal and logged at WARN with backend=local_fallback. The file is
// rewritten as a mirror of the remote record on every successful remote
// write, so the remote store always wins once it is reachable again.
package lease
