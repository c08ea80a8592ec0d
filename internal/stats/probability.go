package stats

import (
	"time"

	"github.com/rickgao/daily-stats/internal/model"
)

// ConditionalProbability estimates P(Y|X) as the percentage of X events
// followed by at least one Y event within (x, x+maxLag]. With sameSymbol the
// Y event must carry the X event's symbol. Returns 0 when x is empty.
//
// Both sequences are swept once: X in time order, with one forward-only
// pointer into Y (one per symbol when sameSymbol is set).
func ConditionalProbability(x, y []model.Event, maxLag time.Duration, sameSymbol bool) float64 {
	if len(x) == 0 {
		return 0
	}

	streams := make(map[string]*yStream)
	for _, e := range sorted(y) {
		key := ""
		if sameSymbol {
			key = e.Symbol
		}
		s, ok := streams[key]
		if !ok {
			s = &yStream{}
			streams[key] = s
		}
		s.times = append(s.times, e.Timestamp)
	}

	hits := 0
	for _, e := range sorted(x) {
		key := ""
		if sameSymbol {
			key = e.Symbol
		}
		s, ok := streams[key]
		if !ok {
			continue
		}
		if next, ok := s.firstAfter(e.Timestamp); ok && !next.After(e.Timestamp.Add(maxLag)) {
			hits++
		}
	}

	return 100 * float64(hits) / float64(len(x))
}

// yStream is a sorted list of Y timestamps with a forward-only cursor.
type yStream struct {
	times []time.Time
	pos   int
}

// firstAfter returns the earliest time strictly after t. Calls must use
// non-decreasing t.
func (s *yStream) firstAfter(t time.Time) (time.Time, bool) {
	for s.pos < len(s.times) && !s.times[s.pos].After(t) {
		s.pos++
	}
	if s.pos == len(s.times) {
		return time.Time{}, false
	}
	return s.times[s.pos], true
}
