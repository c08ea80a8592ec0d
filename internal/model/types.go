package model

import (
	"maps"
	"time"
)

// -----------------------------------------------------------------------------
// Event Log Types
// -----------------------------------------------------------------------------

// Event is one immutable observation read from the remote event log.
type Event struct {
	ID        int64          // Source row id, breaks ties between equal timestamps
	Timestamp time.Time      // Observation time (UTC)
	Symbol    string         // Optional instrument symbol, empty when absent
	Payload   map[string]any // Named scalar fields
}

// Field returns a payload value by name.
func (e Event) Field(name string) (any, bool) {
	if e.Payload == nil {
		return nil, false
	}
	v, ok := e.Payload[name]
	return v, ok
}

// Clone returns a copy that shares no mutable state with e.
func (e Event) Clone() Event {
	c := e
	if e.Payload != nil {
		c.Payload = maps.Clone(e.Payload)
	}
	return c
}

// CloneEvents deep-copies a slice of events.
func CloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

// -----------------------------------------------------------------------------
// Lease Types
// -----------------------------------------------------------------------------

// LeaseStatus is the stored status of a daily run.
type LeaseStatus string

const (
	LeaseRunning LeaseStatus = "running"
	LeaseOK      LeaseStatus = "ok"
	LeaseFailed  LeaseStatus = "failed"
)

// Lease backends recorded in the local fallback file.
const (
	BackendRemote        = "remote"
	BackendLocalFallback = "local_fallback"
)

// LeaseRecord is the per-day mutual exclusion record. One record exists per
// UTC calendar day and it is never deleted.
type LeaseRecord struct {
	Day        string      `json:"date"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at"`
	Status     LeaseStatus `json:"status"`

	// Only persisted in the local fallback file.
	Backend string `json:"backend,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// DayOf formats the UTC calendar date of t.
func DayOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// -----------------------------------------------------------------------------
// Derived Metrics
// -----------------------------------------------------------------------------

// StateMetrics summarizes one reconstructed state timeline. It is recomputed
// on every invocation and never persisted as an entity.
type StateMetrics struct {
	SharesPct           map[string]float64 // State label -> percentage of window duration
	LongestState        string             // Label of the longest contiguous run, empty when none
	LongestStateSeconds int64              // Length of that run in whole seconds
	TransitionsPer24h   float64            // Transition count normalized to 24h
	TransitionCounts    map[string]int     // "A->B" -> count
	FailedFollowThrough int                // Number of A,B,A reversals
}
