package model

import (
	"fmt"
	"time"
)

// AnalysisCutoffHour is the UTC hour at which the daily analysis window closes.
const AnalysisCutoffHour = 11

// ValidationError reports invalid caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Window is a time range [Start, End], inclusive on both ends.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a UTC window and checks that End is after Start.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start.UTC(), End: end.UTC()}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate returns a *ValidationError when the window has no positive duration.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return &ValidationError{
			Field:  "window",
			Reason: fmt.Sprintf("end %s must be after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339)),
		}
	}
	return nil
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Hours returns the window length in fractional hours.
func (w Window) Hours() float64 {
	return w.Duration().Hours()
}

// Contains reports whether t lies within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// StartMillis returns Start as milliseconds since epoch.
func (w Window) StartMillis() int64 {
	return w.Start.UnixMilli()
}

// EndMillis returns End as milliseconds since epoch.
func (w Window) EndMillis() int64 {
	return w.End.UnixMilli()
}

func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + " -> " + w.End.Format(time.RFC3339)
}

// AnalysisWindow returns the 24h window ending at the most recent
// AnalysisCutoffHour:00 UTC at or before now.
func AnalysisWindow(now time.Time) Window {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), AnalysisCutoffHour, 0, 0, 0, time.UTC)
	if now.Before(end) {
		end = end.AddDate(0, 0, -1)
	}
	return Window{Start: end.Add(-24 * time.Hour), End: end}
}

// TrailingWindow returns the window of the given number of days ending at now.
func TrailingWindow(now time.Time, days int) (Window, error) {
	if days < 1 {
		return Window{}, &ValidationError{Field: "days", Reason: fmt.Sprintf("must be >= 1, got %d", days)}
	}
	now = now.UTC()
	return NewWindow(now.AddDate(0, 0, -days), now)
}
