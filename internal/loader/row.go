package loader

import (
	"time"

	"github.com/rickgao/daily-stats/internal/model"
)

// logRow is one row of the remote log table.
type logRow struct {
	ID     int64          `json:"id"`
	Event  string         `json:"event"`
	TS     int64          `json:"ts"` // ms since epoch
	Symbol *string        `json:"symbol"`
	Data   map[string]any `json:"data"`
}

func (r logRow) toEvent() model.Event {
	e := model.Event{
		ID:        r.ID,
		Timestamp: time.UnixMilli(r.TS).UTC(),
		Payload:   r.Data,
	}
	if r.Symbol != nil {
		e.Symbol = *r.Symbol
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e
}
