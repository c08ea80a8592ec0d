// Package stats reduces ordered event sequences to metrics.
//
// Every function is pure and deterministic. Inputs are copied and
// stable-sorted by timestamp before use, so callers may pass events in any
// order; ties keep their input order.
//
// State timelines treat each event as the announcement of a new state read
// from one payload field. The interval before the first event belongs to the
// caller-supplied initial state, the interval after the last event runs to
// the end of the window. Events whose field is missing or blank announce
// nothing and leave the current state in place.
package stats
