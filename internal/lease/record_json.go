package lease

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/daily-stats/internal/model"
)

// Layouts accepted for lease timestamps. Rows written by older jobs carry
// no zone and are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// leaseTime decodes a lease timestamp with or without a zone.
type leaseTime struct{ time.Time }

func (t *leaseTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("lease time: %w", err)
	}
	parsed, err := parseLeaseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func parseLeaseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("lease time: cannot parse %q", s)
}

// wireRecord is the decoded form of a lease row from a store or file.
type wireRecord struct {
	Day        string            `json:"date"`
	StartedAt  leaseTime         `json:"started_at"`
	FinishedAt *leaseTime        `json:"finished_at"`
	Status     model.LeaseStatus `json:"status"`
	Backend    string            `json:"backend,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
}

func (w wireRecord) record() model.LeaseRecord {
	rec := model.LeaseRecord{
		Day:       w.Day,
		StartedAt: w.StartedAt.Time,
		Status:    w.Status,
		Backend:   w.Backend,
		RunID:     w.RunID,
	}
	if w.FinishedAt != nil {
		finished := w.FinishedAt.Time
		rec.FinishedAt = &finished
	}
	return rec
}

// decodeRecord parses one lease record.
func decodeRecord(data []byte) (model.LeaseRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return model.LeaseRecord{}, err
	}
	return w.record(), nil
}
