package stats

import (
	"time"

	"github.com/rickgao/daily-stats/internal/model"
)

// Segment is a maximal interval during which one state held.
type Segment struct {
	State string // "" when the state is unknown
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Timeline is a state history reconstructed over a window.
type Timeline struct {
	Window   model.Window
	Segments []Segment // contiguous, covering the window; adjacent segments differ in state
	States   []string  // announced labels in order, repeats included
}

// Reconstruct replays the events inside w as state announcements of field,
// starting from initial. Segments of equal state that touch are merged.
func Reconstruct(events []model.Event, w model.Window, field, initial string) (Timeline, error) {
	if err := w.Validate(); err != nil {
		return Timeline{}, err
	}

	r := replay{tl: Timeline{Window: w}, state: Label(initial), at: w.Start}
	for _, e := range inWindow(events, w) {
		if l := FieldLabel(e, field); l != "" {
			r.announce(e.Timestamp, l)
		}
	}
	r.close(w.End)

	return r.tl, nil
}

// replay is the scanner behind Reconstruct: the current state and when it began.
type replay struct {
	tl    Timeline
	state string
	at    time.Time
}

func (r *replay) announce(ts time.Time, label string) {
	r.tl.States = append(r.tl.States, label)
	if label == r.state {
		return
	}
	r.close(ts)
	r.state = label
	r.at = ts
}

// close ends the current segment at ts.
func (r *replay) close(ts time.Time) {
	if !ts.After(r.at) {
		return
	}
	if n := len(r.tl.Segments); n > 0 && r.tl.Segments[n-1].State == r.state {
		r.tl.Segments[n-1].End = ts
	} else {
		r.tl.Segments = append(r.tl.Segments, Segment{State: r.state, Start: r.at, End: ts})
	}
	r.at = ts
}

// Occupancy is the time-weighted share of each state in a window.
type Occupancy struct {
	Seconds        map[string]float64 // state -> seconds held
	SharesPct      map[string]float64 // state -> percentage of the window
	LongestState   string             // state of the longest single segment
	LongestSeconds int64              // its length in whole seconds
}

// Occupancy sums segment lengths per state. Unknown intervals count toward
// the window length but belong to no state, so shares then add up to less
// than 100. The longest segment wins; ties go to the earliest.
func (tl Timeline) Occupancy() Occupancy {
	occ := Occupancy{
		Seconds:   make(map[string]float64),
		SharesPct: make(map[string]float64),
	}
	total := tl.Window.Duration().Seconds()

	var longest time.Duration
	for _, seg := range tl.Segments {
		if seg.State == "" {
			continue
		}
		d := seg.Duration()
		occ.Seconds[seg.State] += d.Seconds()
		if d > longest {
			longest = d
			occ.LongestState = seg.State
		}
	}
	occ.LongestSeconds = int64(longest / time.Second)

	if total > 0 {
		for state, secs := range occ.Seconds {
			occ.SharesPct[state] = 100 * secs / total
		}
	}
	return occ
}

// ModeShare returns the percentage of w during which field equaled value.
func ModeShare(events []model.Event, w model.Window, field, value, initial string) (float64, error) {
	tl, err := Reconstruct(events, w, field, initial)
	if err != nil {
		return 0, err
	}
	return tl.Occupancy().SharesPct[Label(value)], nil
}

// ComputeStateMetrics derives the full StateMetrics of one field over w.
func ComputeStateMetrics(events []model.Event, w model.Window, field, initial string) (model.StateMetrics, error) {
	tl, err := Reconstruct(events, w, field, initial)
	if err != nil {
		return model.StateMetrics{}, err
	}

	occ := tl.Occupancy()
	counts, total := TransitionCounts(tl.States)
	perDay, err := TransitionsPer24h(total, w)
	if err != nil {
		return model.StateMetrics{}, err
	}

	return model.StateMetrics{
		SharesPct:           occ.SharesPct,
		LongestState:        occ.LongestState,
		LongestStateSeconds: occ.LongestSeconds,
		TransitionsPer24h:   perDay,
		TransitionCounts:    counts,
		FailedFollowThrough: FailedFollowThrough(tl.States),
	}, nil
}
