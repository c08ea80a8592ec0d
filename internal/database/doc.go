// Package database opens the optional PostgreSQL pool used by the
// postgres lease store and the postgres report sink.
package database
