// Package loader retrieves complete, ordered slices of the remote event log.
//
// A Loader pages through one event type inside a window with a timestamp
// cursor until the log is exhausted, and memoizes each (event type, window)
// result for the lifetime of the Loader. One Loader is created per run, so
// the cache is never shared across runs. Callers always receive copies.
package loader
