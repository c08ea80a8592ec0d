package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/daily-stats/internal/model"
	"github.com/rickgao/daily-stats/internal/writer"
)

// Source provides events to jobs.
type Source interface {
	Load(ctx context.Context, eventType string, w model.Window) ([]model.Event, error)
	LastBefore(ctx context.Context, eventType string, t time.Time) (*model.Event, error)
}

// Job is one daily report.
type Job interface {
	Name() string
	EventTypes() []string // event types Run will load, for prefetching
	Run(ctx context.Context, w model.Window) error
}

// Deps are the collaborators shared by all jobs.
type Deps struct {
	Source Source
	Sink   writer.Sink
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// write sends rows to the sink. Writes the store rejects outright are
// logged and skipped.
func (d Deps) write(ctx context.Context, job, table string, rows []writer.Row, opts writer.WriteOptions) error {
	if d.Sink == nil {
		return errNoSink
	}
	res, err := d.Sink.Write(ctx, table, rows, opts)
	if err != nil {
		if writer.Rejected(err) {
			d.logger().Warn("write skipped",
				"job", job,
				"table", table,
				"rows", len(rows),
				"error", err,
			)
			return nil
		}
		return fmt.Errorf("%s: write %s: %w", job, table, err)
	}
	d.logger().Info("report written",
		"job", job,
		"table", table,
		"rows", res.Written,
		"conflicts", res.Conflicts,
	)
	return nil
}

// Jobs returns every daily job in run order.
func Jobs(deps Deps) []Job {
	return []Job{
		NewRiskDaily(deps),
		NewRiskDivergences(deps),
		NewInternalAggregates(deps),
	}
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// round2Map rounds every value of m.
func round2Map(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = Round2(v)
	}
	return out
}

// nullable maps "" to JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var errNoSink = errors.New("report: no sink configured")
