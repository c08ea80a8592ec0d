package lease

import (
	"testing"
	"time"

	"github.com/rickgao/daily-stats/internal/model"
)

func TestStateOf(t *testing.T) {
	tests := []struct {
		rec  *model.LeaseRecord
		want State
	}{
		{nil, StateAbsent},
		{&model.LeaseRecord{Status: model.LeaseRunning}, StateRunning},
		{&model.LeaseRecord{Status: model.LeaseOK}, StateOK},
		{&model.LeaseRecord{Status: model.LeaseFailed}, StateFailed},
		{&model.LeaseRecord{Status: "paused"}, StateRunning},
	}
	for _, tt := range tests {
		if got := StateOf(tt.rec); got != tt.want {
			t.Errorf("StateOf(%v) = %v, want %v", tt.rec, got, tt.want)
		}
	}
}

func TestNextAction(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour)
	stale := now.Add(-DefaultStaleAfter)

	rec := func(status model.LeaseStatus, started time.Time) *model.LeaseRecord {
		return &model.LeaseRecord{Day: "2025-03-10", Status: status, StartedAt: started}
	}

	tests := []struct {
		name string
		rec  *model.LeaseRecord
		want action
	}{
		{"absent", nil, actInsert},
		{"running fresh", rec(model.LeaseRunning, fresh), actDeny},
		{"running stale", rec(model.LeaseRunning, stale), actTakeover},
		{"ok fresh", rec(model.LeaseOK, fresh), actDeny},
		{"ok stale", rec(model.LeaseOK, stale), actTakeover},
		{"failed fresh", rec(model.LeaseFailed, fresh), actTakeover},
		{"failed stale", rec(model.LeaseFailed, stale), actTakeover},
		{"unknown status fresh", rec("weird", fresh), actDeny},
		{"just under threshold", rec(model.LeaseRunning, now.Add(-DefaultStaleAfter+time.Second)), actDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextAction(tt.rec, now, DefaultStaleAfter); got != tt.want {
				t.Errorf("nextAction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		outcome Outcome
		name    string
		granted bool
	}{
		{Denied, "denied", false},
		{Acquired, "acquired", true},
		{TakenOver, "taken_over", true},
		{AcquiredLocal, "acquired_local", true},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := (Decision{Outcome: tt.outcome}).Granted(); got != tt.granted {
			t.Errorf("%s Granted() = %v, want %v", tt.name, got, tt.granted)
		}
	}
}
