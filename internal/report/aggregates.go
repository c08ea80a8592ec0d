package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/rickgao/daily-stats/internal/model"
	"github.com/rickgao/daily-stats/internal/stats"
	"github.com/rickgao/daily-stats/internal/writer"
)

// Layers of the internal aggregates report.
const (
	StructureLayer  = "market_structure"
	VolatilityLayer = "market_volatility"
	ContextLayer    = "market_context"
)

// Event types read by InternalAggregates.
const (
	EventTickerCycle = "options_ticker_cycle"
	EventMarketState = "options_market_state"
	EventDivergence  = "risk_divergence"
)

// AggregatesTable receives one row per (date, layer, metric).
const AggregatesTable = "daily_aggregates"

// Candidate state columns, first present wins.
var (
	structureFields  = []string{"market_structure", "structure_state", "regime"}
	volatilityFields = []string{"market_volatility", "volatility_state", "liquidity_regime", "regime"}
	alignmentFields  = []string{"window_alignment", "alignment", "windows_alignment"}
)

var (
	alignedValues    = map[string]bool{"aligned": true, "align": true, "true": true, "1": true}
	conflictedValues = map[string]bool{"conflicted": true, "conflict": true, "mixed": true, "false": true, "0": true}
)

// InternalAggregates computes the internal-only daily state aggregates.
type InternalAggregates struct {
	deps Deps
}

// NewInternalAggregates creates the job.
func NewInternalAggregates(deps Deps) *InternalAggregates {
	return &InternalAggregates{deps: deps}
}

func (j *InternalAggregates) Name() string { return "internal_aggregates" }

func (j *InternalAggregates) EventTypes() []string {
	return []string{EventTickerCycle, EventMarketState, EventDivergence}
}

// layerResult is the state analysis of one layer.
type layerResult struct {
	metrics  model.StateMetrics
	dominant string
}

func (j *InternalAggregates) Run(ctx context.Context, w model.Window) error {
	cycle, err := j.deps.Source.Load(ctx, EventTickerCycle, w)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Name(), err)
	}
	market, err := j.deps.Source.Load(ctx, EventMarketState, w)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Name(), err)
	}
	divergence, err := j.deps.Source.Load(ctx, EventDivergence, w)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Name(), err)
	}

	structure, err := j.layer(ctx, EventTickerCycle, cycle, structureFields, w)
	if err != nil {
		return err
	}
	volatility, err := j.layer(ctx, EventMarketState, market, volatilityFields, w)
	if err != nil {
		return err
	}
	divRate, err := stats.EventRate(divergence, w)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Name(), err)
	}

	date := model.DayOf(w.End)
	rows := append(layerRows(date, StructureLayer, structure), layerRows(date, VolatilityLayer, volatility)...)
	rows = append(rows,
		metricRow(date, ContextLayer, "divergence_events_per_24h", Round2(divRate.PerDay)),
		metricRow(date, ContextLayer, "transition_map_counts", map[string]any{
			StructureLayer:  structure.metrics.TransitionCounts,
			VolatilityLayer: volatility.metrics.TransitionCounts,
		}),
		metricRow(date, ContextLayer, "failed_follow_through_count", map[string]any{
			StructureLayer:  structure.metrics.FailedFollowThrough,
			VolatilityLayer: volatility.metrics.FailedFollowThrough,
		}),
		metricRow(date, ContextLayer, "window_alignment_frequency", WindowAlignment(cycle)),
	)

	return j.deps.write(ctx, j.Name(), AggregatesTable, rows, writer.WriteOptions{
		Upsert:     true,
		OnConflict: []string{"date", "layer", "metric"},
	})
}

// layer analyzes the first candidate field present in events. The state in
// force at the window start is taken from the last event before it.
func (j *InternalAggregates) layer(ctx context.Context, eventType string, events []model.Event, candidates []string, w model.Window) (layerResult, error) {
	field := PickField(events, candidates)
	if field == "" {
		return layerResult{metrics: model.StateMetrics{
			SharesPct:        map[string]float64{},
			TransitionCounts: map[string]int{},
		}}, nil
	}

	initial := ""
	prev, err := j.deps.Source.LastBefore(ctx, eventType, w.Start)
	if err != nil {
		return layerResult{}, fmt.Errorf("%s: initial %s state: %w", j.Name(), eventType, err)
	}
	if prev != nil {
		initial = stats.FieldLabel(*prev, field)
	}

	m, err := stats.ComputeStateMetrics(events, w, field, initial)
	if err != nil {
		return layerResult{}, fmt.Errorf("%s: %w", j.Name(), err)
	}
	dominant, _ := stats.Dominant(events, field)

	j.deps.logger().Debug("layer analyzed",
		"event", eventType,
		"field", field,
		"initial", initial,
		"states", len(m.SharesPct),
	)
	return layerResult{metrics: m, dominant: dominant}, nil
}

func layerRows(date, layer string, r layerResult) []writer.Row {
	return []writer.Row{
		metricRow(date, layer, "state_share_pct", round2Map(r.metrics.SharesPct)),
		metricRow(date, layer, "longest_continuous_state", map[string]any{
			"state":            nullable(r.metrics.LongestState),
			"duration_seconds": r.metrics.LongestStateSeconds,
		}),
		metricRow(date, layer, "state_transitions_per_24h", Round2(r.metrics.TransitionsPer24h)),
		metricRow(date, layer, "dominant_state", nullable(r.dominant)),
	}
}

func metricRow(date, layer, metric string, value any) writer.Row {
	return writer.Row{
		"date":   date,
		"layer":  layer,
		"metric": metric,
		"value":  value,
	}
}

// PickField returns the first candidate carried by any event, or "".
func PickField(events []model.Event, candidates []string) string {
	for _, c := range candidates {
		for _, e := range events {
			if _, ok := e.Field(c); ok {
				return c
			}
		}
	}
	return ""
}

// WindowAlignment counts cycles whose timeframes agreed or disagreed. An
// explicit alignment label wins; otherwise a boolean is_aligned flag is used.
func WindowAlignment(events []model.Event) map[string]int {
	out := map[string]int{"aligned": 0, "conflicted": 0}
	field := PickField(events, alignmentFields)

	for _, e := range events {
		text := ""
		if field != "" {
			text = strings.ToLower(stats.FieldLabel(e, field))
		}
		switch {
		case alignedValues[text]:
			out["aligned"]++
			continue
		case conflictedValues[text]:
			out["conflicted"]++
			continue
		}

		if v, ok := e.Field("is_aligned"); ok {
			if flag, ok := v.(bool); ok {
				if flag {
					out["aligned"]++
				} else {
					out["conflicted"]++
				}
			}
		}
	}
	return out
}
