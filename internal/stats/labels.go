package stats

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rickgao/daily-stats/internal/model"
)

// Label normalizes a payload value into a state label. Blank and nil
// values yield "", which means "no state".
func Label(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// FieldLabel returns the normalized label of a payload field.
func FieldLabel(e model.Event, field string) string {
	v, ok := e.Field(field)
	if !ok {
		return ""
	}
	return Label(v)
}

// Labels returns the non-blank labels of field in timestamp order.
func Labels(events []model.Event, field string) []string {
	ordered := sorted(events)
	out := make([]string, 0, len(ordered))
	for _, e := range ordered {
		if l := FieldLabel(e, field); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// sorted returns a stable timestamp-ordered copy of events.
func sorted(events []model.Event) []model.Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b model.Event) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// inWindow returns the events inside w in timestamp order.
func inWindow(events []model.Event, w model.Window) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if w.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	return sorted(out)
}
