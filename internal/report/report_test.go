package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/daily-stats/internal/api"
	"github.com/rickgao/daily-stats/internal/model"
	"github.com/rickgao/daily-stats/internal/writer"
)

var windowEnd = time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)

func testWindow() model.Window {
	return model.AnalysisWindow(windowEnd)
}

// memSource serves events from memory.
type memSource struct {
	events map[string][]model.Event
	before map[string]*model.Event
	err    error
}

func (s *memSource) Load(_ context.Context, eventType string, w model.Window) ([]model.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []model.Event
	for _, e := range s.events[eventType] {
		if w.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memSource) LastBefore(_ context.Context, eventType string, _ time.Time) (*model.Event, error) {
	return s.before[eventType], nil
}

// captureSink records writes.
type captureSink struct {
	tables []string
	rows   [][]writer.Row
	opts   []writer.WriteOptions
	err    error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Write(_ context.Context, table string, rows []writer.Row, opts writer.WriteOptions) (writer.Result, error) {
	if s.err != nil {
		return writer.Result{}, s.err
	}
	s.tables = append(s.tables, table)
	s.rows = append(s.rows, rows)
	s.opts = append(s.opts, opts)
	return writer.Result{Written: len(rows)}, nil
}

func ev(at time.Duration, symbol string, payload map[string]any) model.Event {
	return model.Event{Timestamp: testWindow().Start.Add(at), Symbol: symbol, Payload: payload}
}

func TestRound2(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{2.675, 2.68},
		{1.005, 1.01},
		{-1.005, -1.01},
		{33.333333, 33.33},
		{50, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round2(tt.in), "Round2(%v)", tt.in)
	}
}

func TestSession(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		hour int
		want string
	}{
		{0, "ASIA"}, {7, "ASIA"}, {8, "EU"}, {15, "EU"}, {16, "US"}, {23, "US"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Session(day.Add(time.Duration(tt.hour)*time.Hour)), "hour %d", tt.hour)
	}
}

func TestRisk(t *testing.T) {
	assert.Equal(t, 2.0, Risk(model.Event{Payload: map[string]any{"risk": 2.0}}))
	assert.Equal(t, 3.0, Risk(model.Event{Payload: map[string]any{"risk": "3"}}))
	assert.Equal(t, 0.0, Risk(model.Event{Payload: map[string]any{"risk": "high"}}))
	assert.Equal(t, 0.0, Risk(model.Event{}))
}

func TestRiskSnapshot(t *testing.T) {
	w := testWindow() // 2025-03-09 11:00 -> 2025-03-10 11:00
	events := []model.Event{
		ev(1*time.Hour, "BTC", map[string]any{"risk": 1.0}),  // 12:00 EU
		ev(2*time.Hour, "BTC", map[string]any{"risk": 2.0}),  // 13:00 EU
		ev(6*time.Hour, "ETH", map[string]any{"risk": 3.0}),  // 17:00 US
		ev(14*time.Hour, "ETH", map[string]any{"risk": 0.0}), // 01:00 ASIA
	}

	row := RiskSnapshot(events, w)
	assert.Equal(t, "2025-03-10", row["date"])
	assert.Equal(t, "2025-03-09T11:00:00Z", row["window_start"])
	assert.Equal(t, 4, row["total_risk_evals"])
	assert.Equal(t, map[string]int{"0": 1, "1": 1, "2": 1, "3": 1}, row["risk_distribution_counts"])
	assert.Equal(t, map[string]float64{"0": 25, "1": 25, "2": 25, "3": 25}, row["risk_distribution_pct"])

	counts := row["sessions_counts"].(map[string]any)
	assert.Equal(t, map[string]int{"total": 2, "buildups": 1}, counts["EU"])
	assert.Equal(t, map[string]int{"total": 1, "buildups": 1}, counts["US"])
	assert.Equal(t, map[string]int{"total": 1, "buildups": 0}, counts["ASIA"])

	pct := row["sessions_pct"].(map[string]any)
	assert.Equal(t, map[string]float64{"of_day": 50, "buildups_in_session": 50}, pct["EU"])
}

func TestRiskDaily_Run(t *testing.T) {
	src := &memSource{events: map[string][]model.Event{
		EventRiskEval: {ev(time.Hour, "", map[string]any{"risk": 2.0})},
	}}
	sink := &captureSink{}

	require.NoError(t, NewRiskDaily(Deps{Source: src, Sink: sink}).Run(context.Background(), testWindow()))
	require.Equal(t, []string{RiskSnapshotTable}, sink.tables)
	assert.Equal(t, []string{"date"}, sink.opts[0].OnConflict)
	assert.True(t, sink.opts[0].Upsert)
}

func TestRiskDaily_NoEvents(t *testing.T) {
	sink := &captureSink{}
	job := NewRiskDaily(Deps{Source: &memSource{}, Sink: sink})

	require.NoError(t, job.Run(context.Background(), testWindow()))
	assert.Empty(t, sink.tables)
}

func TestDivergenceRow(t *testing.T) {
	e := ev(time.Hour, "BTC", map[string]any{"type": "bearish", "risk": 3.0, "price": 64000.5})
	row := DivergenceRow(e)

	assert.Equal(t, "2025-03-09T12:00:00Z", row["ts"])
	assert.Equal(t, "2025-03-09", row["date"])
	assert.Equal(t, "BTC", row["symbol"])
	assert.Equal(t, "bearish", row["divergence_type"])
	assert.Equal(t, 3, row["risk"])
	assert.Equal(t, 64000.5, row["price"])

	row = DivergenceRow(ev(0, "", map[string]any{"divergence_type": "bullish", "type": "x"}))
	assert.Nil(t, row["symbol"])
	assert.Equal(t, "bullish", row["divergence_type"])
	assert.Nil(t, row["price"])
}

func TestRiskDivergences_Run(t *testing.T) {
	src := &memSource{events: map[string][]model.Event{
		EventDivergence: {ev(time.Hour, "BTC", nil), ev(2*time.Hour, "ETH", nil)},
	}}
	sink := &captureSink{}

	require.NoError(t, NewRiskDivergences(Deps{Source: src, Sink: sink}).Run(context.Background(), testWindow()))
	require.Len(t, sink.rows, 1)
	assert.Len(t, sink.rows[0], 2)
	assert.Equal(t, RiskDivergencesTable, sink.tables[0])
}

func TestPickField(t *testing.T) {
	events := []model.Event{
		{Payload: map[string]any{"regime": "x"}},
		{Payload: map[string]any{"structure_state": "y"}},
	}
	assert.Equal(t, "structure_state", PickField(events, structureFields))
	assert.Equal(t, "", PickField(nil, structureFields))
}

func TestWindowAlignment(t *testing.T) {
	events := []model.Event{
		{Payload: map[string]any{"window_alignment": "Aligned"}},
		{Payload: map[string]any{"window_alignment": "mixed"}},
		{Payload: map[string]any{"window_alignment": true}},
		{Payload: map[string]any{"window_alignment": "?", "is_aligned": false}},
		{Payload: map[string]any{"is_aligned": true}},
		{Payload: map[string]any{}},
	}
	assert.Equal(t, map[string]int{"aligned": 3, "conflicted": 2}, WindowAlignment(events))
	assert.Equal(t, map[string]int{"aligned": 0, "conflicted": 0}, WindowAlignment(nil))
}

func TestInternalAggregates_Run(t *testing.T) {
	src := &memSource{
		events: map[string][]model.Event{
			EventTickerCycle: {
				ev(6*time.Hour, "", map[string]any{"market_structure": "RANGE", "window_alignment": "aligned"}),
				ev(12*time.Hour, "", map[string]any{"market_structure": "TREND", "window_alignment": "conflicted"}),
				ev(18*time.Hour, "", map[string]any{"market_structure": "RANGE"}),
			},
			EventMarketState: {
				ev(12*time.Hour, "", map[string]any{"volatility_state": "HIGH"}),
			},
			EventDivergence: {ev(time.Hour, "BTC", nil), ev(2*time.Hour, "ETH", nil)},
		},
		before: map[string]*model.Event{
			EventTickerCycle: {Payload: map[string]any{"market_structure": "TREND"}},
		},
	}
	sink := &captureSink{}
	job := NewInternalAggregates(Deps{Source: src, Sink: sink})

	require.NoError(t, job.Run(context.Background(), testWindow()))
	require.Equal(t, []string{AggregatesTable}, sink.tables)
	assert.Equal(t, []string{"date", "layer", "metric"}, sink.opts[0].OnConflict)

	rows := sink.rows[0]
	require.Len(t, rows, 12)
	byKey := make(map[string]any)
	for _, r := range rows {
		assert.Equal(t, "2025-03-10", r["date"])
		byKey[r["layer"].(string)+"/"+r["metric"].(string)] = r["value"]
	}

	// TREND 0-6h and 12-18h, RANGE 6-12h and 18-24h.
	assert.Equal(t, map[string]float64{"TREND": 50, "RANGE": 50}, byKey["market_structure/state_share_pct"])
	assert.Equal(t, map[string]any{"state": "TREND", "duration_seconds": int64(6 * 3600)},
		byKey["market_structure/longest_continuous_state"])
	assert.Equal(t, 2.0, byKey["market_structure/state_transitions_per_24h"])
	assert.Equal(t, "RANGE", byKey["market_structure/dominant_state"])

	// No volatility state before noon.
	assert.Equal(t, map[string]float64{"HIGH": 50}, byKey["market_volatility/state_share_pct"])
	assert.Equal(t, 0.0, byKey["market_volatility/state_transitions_per_24h"])

	assert.Equal(t, 2.0, byKey["market_context/divergence_events_per_24h"])
	assert.Equal(t, map[string]any{
		StructureLayer:  map[string]int{"RANGE->TREND": 1, "TREND->RANGE": 1},
		VolatilityLayer: map[string]int{},
	}, byKey["market_context/transition_map_counts"])
	assert.Equal(t, map[string]any{StructureLayer: 1, VolatilityLayer: 0},
		byKey["market_context/failed_follow_through_count"])
	assert.Equal(t, map[string]int{"aligned": 1, "conflicted": 1}, byKey["market_context/window_alignment_frequency"])
}

func TestInternalAggregates_NoStateField(t *testing.T) {
	sink := &captureSink{}
	job := NewInternalAggregates(Deps{Source: &memSource{}, Sink: sink})

	require.NoError(t, job.Run(context.Background(), testWindow()))
	rows := sink.rows[0]
	require.Len(t, rows, 12)
	assert.Equal(t, map[string]any{"state": nil, "duration_seconds": int64(0)}, rows[1]["value"])
	assert.Nil(t, rows[3]["value"])
}

func TestInternalAggregates_RejectedWriteSkipped(t *testing.T) {
	sink := &captureSink{err: &api.PermanentError{StatusCode: 404, Message: "relation not found"}}
	job := NewInternalAggregates(Deps{Source: &memSource{}, Sink: sink})

	assert.NoError(t, job.Run(context.Background(), testWindow()))
}

func TestInternalAggregates_PartlyRejectedMultiWriteFails(t *testing.T) {
	down := errors.New("connection refused")
	sink := writer.Multi{
		&captureSink{err: &api.PermanentError{StatusCode: 400, Message: "bad column"}},
		&captureSink{err: down},
	}
	job := NewInternalAggregates(Deps{Source: &memSource{}, Sink: sink})

	assert.ErrorIs(t, job.Run(context.Background(), testWindow()), down)
}

func TestInternalAggregates_Errors(t *testing.T) {
	boom := errors.New("boom")

	job := NewInternalAggregates(Deps{Source: &memSource{}, Sink: &captureSink{err: boom}})
	assert.ErrorIs(t, job.Run(context.Background(), testWindow()), boom)

	job = NewInternalAggregates(Deps{Source: &memSource{err: boom}, Sink: &captureSink{}})
	assert.ErrorIs(t, job.Run(context.Background(), testWindow()), boom)

	job = NewInternalAggregates(Deps{Source: &memSource{}})
	assert.ErrorIs(t, job.Run(context.Background(), testWindow()), errNoSink)
}

func TestJobs(t *testing.T) {
	jobs := Jobs(Deps{})
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name()
		assert.NotEmpty(t, j.EventTypes())
	}
	assert.Equal(t, []string{"risk_daily", "risk_divergences", "internal_aggregates"}, names)
}
