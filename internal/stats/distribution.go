package stats

import (
	"sort"

	"github.com/rickgao/daily-stats/internal/model"
)

// EventShare returns the percentage of events whose field equals value.
// Returns 0 for an empty input.
func EventShare(events []model.Event, field, value string) float64 {
	if len(events) == 0 {
		return 0
	}
	want := Label(value)
	matched := 0
	for _, e := range events {
		if FieldLabel(e, field) == want {
			matched++
		}
	}
	return 100 * float64(matched) / float64(len(events))
}

// Rate is the density of events in a window.
type Rate struct {
	Count   int
	PerHour float64
	PerDay  float64
}

// EventRate counts the events inside w and normalizes by its length.
func EventRate(events []model.Event, w model.Window) (Rate, error) {
	if err := w.Validate(); err != nil {
		return Rate{}, err
	}
	n := len(inWindow(events, w))
	perHour := float64(n) / w.Hours()
	return Rate{Count: n, PerHour: perHour, PerDay: perHour * 24}, nil
}

// ValueCount is one row of a TopValues result.
type ValueCount struct {
	Value      string  `json:"value"`
	Count      int     `json:"count"`
	Percentage float64 `json:"pct"`
}

// TopValues returns the n most frequent non-blank labels of field, by count
// descending with ties in order of first appearance. Percentages are of the
// events that carry the field. n <= 0 yields an empty result.
func TopValues(events []model.Event, field string, n int) []ValueCount {
	if n <= 0 {
		return []ValueCount{}
	}

	var order []*ValueCount
	index := make(map[string]*ValueCount)
	total := 0
	for _, e := range sorted(events) {
		l := FieldLabel(e, field)
		if l == "" {
			continue
		}
		total++
		vc, ok := index[l]
		if !ok {
			vc = &ValueCount{Value: l}
			index[l] = vc
			order = append(order, vc)
		}
		vc.Count++
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].Count > order[j].Count })
	if len(order) > n {
		order = order[:n]
	}

	out := make([]ValueCount, 0, len(order))
	for _, vc := range order {
		vc.Percentage = 100 * float64(vc.Count) / float64(total)
		out = append(out, *vc)
	}
	return out
}

// Dominant returns the most frequent label of field and its share.
// Returns "" and 0 when no event carries the field.
func Dominant(events []model.Event, field string) (string, float64) {
	top := TopValues(events, field, 1)
	if len(top) == 0 {
		return "", 0
	}
	return top[0].Value, top[0].Percentage
}
