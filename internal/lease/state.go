package lease

import (
	"time"

	"github.com/rickgao/daily-stats/internal/model"
)

// State is the lifecycle state of today's lease record.
type State int

const (
	StateAbsent State = iota
	StateRunning
	StateOK
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateRunning:
		return "running"
	case StateOK:
		return "ok"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateOf maps a stored record to its state. Unrecognized statuses are
// treated as running so that they expire through the stale threshold.
func StateOf(rec *model.LeaseRecord) State {
	if rec == nil {
		return StateAbsent
	}
	switch rec.Status {
	case model.LeaseOK:
		return StateOK
	case model.LeaseFailed:
		return StateFailed
	default:
		return StateRunning
	}
}

// action is what Acquire does about the record it found.
type action int

const (
	actInsert action = iota
	actDeny
	actTakeover
)

// acquireTable gives the action for each state as {fresh, stale}.
var acquireTable = map[State][2]action{
	StateAbsent:  {actInsert, actInsert},
	StateRunning: {actDeny, actTakeover},
	StateOK:      {actDeny, actTakeover},
	StateFailed:  {actTakeover, actTakeover},
}

// nextAction looks up the acquisition action for rec at now.
func nextAction(rec *model.LeaseRecord, now time.Time, staleAfter time.Duration) action {
	row := acquireTable[StateOf(rec)]
	if rec != nil && isStale(rec, now, staleAfter) {
		return row[1]
	}
	return row[0]
}

// isStale reports whether rec started staleAfter or longer before now.
func isStale(rec *model.LeaseRecord, now time.Time, staleAfter time.Duration) bool {
	return now.Sub(rec.StartedAt) >= staleAfter
}

// validFinish reports whether a run may finish with status.
func validFinish(status model.LeaseStatus) bool {
	return status == model.LeaseOK || status == model.LeaseFailed
}

// Outcome is the result of an acquisition attempt.
type Outcome int

const (
	Denied        Outcome = iota // another run owns the day
	Acquired                     // first remote insert of the day
	TakenOver                    // a failed or stale record was overwritten
	AcquiredLocal                // store unreachable, lease held in the local file only
)

func (o Outcome) String() string {
	switch o {
	case Denied:
		return "denied"
	case Acquired:
		return "acquired"
	case TakenOver:
		return "taken_over"
	case AcquiredLocal:
		return "acquired_local"
	default:
		return "unknown"
	}
}

// Decision is the tagged result of Manager.Acquire.
type Decision struct {
	Outcome  Outcome
	Existing *model.LeaseRecord // record found for today, nil when none was read
	Backend  string             // model.BackendRemote or model.BackendLocalFallback
}

// Granted reports whether the caller may run today's job.
func (d Decision) Granted() bool {
	return d.Outcome != Denied
}
