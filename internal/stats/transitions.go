package stats

import (
	"github.com/rickgao/daily-stats/internal/model"
)

// TransitionKey labels a change from one state to another.
func TransitionKey(from, to string) string {
	return from + "->" + to
}

// TransitionCounts tallies changes between consecutive distinct states.
// Repeated identical states are not transitions.
func TransitionCounts(states []string) (map[string]int, int) {
	counts := make(map[string]int)
	total := 0
	for i := 1; i < len(states); i++ {
		if states[i] == states[i-1] {
			continue
		}
		counts[TransitionKey(states[i-1], states[i])]++
		total++
	}
	return counts, total
}

// TransitionsPer24h normalizes a count to a 24 hour rate over w.
func TransitionsPer24h(count int, w model.Window) (float64, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	return float64(count) / w.Hours() * 24, nil
}

// FailedFollowThrough counts reversals: three consecutive observations
// A, B, A with A != B. Timing is ignored.
func FailedFollowThrough(states []string) int {
	failed := 0
	for i := 2; i < len(states); i++ {
		a, b, c := states[i-2], states[i-1], states[i]
		if a != b && c == a {
			failed++
		}
	}
	return failed
}
