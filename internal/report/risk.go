package report

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/rickgao/daily-stats/internal/model"
	"github.com/rickgao/daily-stats/internal/stats"
	"github.com/rickgao/daily-stats/internal/writer"
)

// Event types and tables of the risk reports.
const (
	EventRiskEval        = "risk_eval"
	RiskSnapshotTable    = "daily_risk_snapshot"
	RiskDivergencesTable = "daily_risk_divergences"
)

// BuildupRisk is the lowest risk level counted as a buildup.
const BuildupRisk = 2

// Trading sessions by UTC hour.
var sessions = []string{"ASIA", "EU", "US"}

// Session returns the trading session of t: ASIA before 08:00 UTC, EU
// before 16:00, US otherwise.
func Session(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h < 8:
		return "ASIA"
	case h < 16:
		return "EU"
	default:
		return "US"
	}
}

// Risk reads the numeric risk level of e. Missing or unparsable values are 0.
func Risk(e model.Event) float64 {
	v, _ := e.Field("risk")
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// RiskDaily summarizes the day's risk evaluations.
type RiskDaily struct {
	deps Deps
}

// NewRiskDaily creates the job.
func NewRiskDaily(deps Deps) *RiskDaily {
	return &RiskDaily{deps: deps}
}

func (j *RiskDaily) Name() string { return "risk_daily" }

func (j *RiskDaily) EventTypes() []string { return []string{EventRiskEval} }

func (j *RiskDaily) Run(ctx context.Context, w model.Window) error {
	events, err := j.deps.Source.Load(ctx, EventRiskEval, w)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Name(), err)
	}
	if len(events) == 0 {
		j.deps.logger().Info("no risk evaluations, snapshot skipped", "window", w)
		return nil
	}

	row := RiskSnapshot(events, w)
	return j.deps.write(ctx, j.Name(), RiskSnapshotTable, []writer.Row{row}, writer.WriteOptions{
		Upsert:     true,
		OnConflict: []string{"date"},
	})
}

// RiskSnapshot builds the snapshot row of a non-empty set of evaluations.
func RiskSnapshot(events []model.Event, w model.Window) writer.Row {
	total := len(events)

	levels := make(map[float64]int)
	type sessionTally struct{ total, buildups int }
	bySession := make(map[string]*sessionTally)

	for _, e := range events {
		r := Risk(e)
		levels[r]++

		s := Session(e.Timestamp)
		tally, ok := bySession[s]
		if !ok {
			tally = &sessionTally{}
			bySession[s] = tally
		}
		tally.total++
		if r >= BuildupRisk {
			tally.buildups++
		}
	}

	keys := make([]float64, 0, len(levels))
	for k := range levels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	distCounts := make(map[string]int, len(keys))
	distPct := make(map[string]float64, len(keys))
	for _, k := range keys {
		label := stats.Label(k)
		distCounts[label] = levels[k]
		distPct[label] = Round2(100 * float64(levels[k]) / float64(total))
	}

	sessionCounts := make(map[string]any)
	sessionPct := make(map[string]any)
	for _, s := range sessions {
		tally, ok := bySession[s]
		if !ok {
			continue
		}
		sessionCounts[s] = map[string]int{
			"total":    tally.total,
			"buildups": tally.buildups,
		}
		sessionPct[s] = map[string]float64{
			"of_day":              Round2(100 * float64(tally.total) / float64(total)),
			"buildups_in_session": Round2(100 * float64(tally.buildups) / float64(tally.total)),
		}
	}

	return writer.Row{
		"date":                     model.DayOf(w.End),
		"window_start":             w.Start.Format(time.RFC3339),
		"window_end":               w.End.Format(time.RFC3339),
		"total_risk_evals":         total,
		"risk_distribution_counts": distCounts,
		"risk_distribution_pct":    distPct,
		"sessions_counts":          sessionCounts,
		"sessions_pct":             sessionPct,
	}
}

// RiskDivergences copies the day's divergence events into their own table.
type RiskDivergences struct {
	deps Deps
}

// NewRiskDivergences creates the job.
func NewRiskDivergences(deps Deps) *RiskDivergences {
	return &RiskDivergences{deps: deps}
}

func (j *RiskDivergences) Name() string { return "risk_divergences" }

func (j *RiskDivergences) EventTypes() []string { return []string{EventDivergence} }

func (j *RiskDivergences) Run(ctx context.Context, w model.Window) error {
	events, err := j.deps.Source.Load(ctx, EventDivergence, w)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Name(), err)
	}
	if len(events) == 0 {
		return nil
	}

	rows := make([]writer.Row, 0, len(events))
	for _, e := range events {
		rows = append(rows, DivergenceRow(e))
	}
	return j.deps.write(ctx, j.Name(), RiskDivergencesTable, rows, writer.WriteOptions{})
}

// DivergenceRow maps one divergence event to its row.
func DivergenceRow(e model.Event) writer.Row {
	kind := stats.FieldLabel(e, "divergence_type")
	if kind == "" {
		kind = stats.FieldLabel(e, "type")
	}
	price, _ := e.Field("price")

	return writer.Row{
		"ts":              e.Timestamp.UTC().Format(time.RFC3339Nano),
		"date":            model.DayOf(e.Timestamp),
		"symbol":          nullable(e.Symbol),
		"divergence_type": nullable(kind),
		"risk":            int(Risk(e)),
		"price":           price,
	}
}
