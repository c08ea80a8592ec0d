// Package writer persists report rows.
//
// Sinks:
//   - RESTSink: PostgREST insert or upsert through the api client
//   - PostgresSink: pgx.Batch inserts, one statement per row
//   - Multi: fan-out to several sinks
//
// Rows are column -> value maps. Map and slice values go to JSON columns.
// Writes are idempotent when an upsert conflict target is given, so a rerun
// of the same day replaces its rows instead of duplicating them.
package writer
