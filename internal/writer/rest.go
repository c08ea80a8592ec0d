package writer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/daily-stats/internal/api"
	"github.com/rickgao/daily-stats/internal/metrics"
)

// RESTSink writes through PostgREST.
type RESTSink struct {
	client  *api.Client
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewRESTSink creates a sink over client.
func NewRESTSink(client *api.Client, logger *slog.Logger, rec *metrics.Recorder) *RESTSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTSink{client: client, logger: logger, metrics: rec}
}

func (s *RESTSink) Name() string { return "rest" }

// Write posts all rows in one request.
func (s *RESTSink) Write(ctx context.Context, table string, rows []Row, opts WriteOptions) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}

	start := time.Now()
	err := s.client.Insert(ctx, table, rows, api.InsertOptions{
		Upsert:     opts.Upsert,
		OnConflict: strings.Join(opts.OnConflict, ","),
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.AddRowsOut(len(rows))
	s.logger.Debug("rows written",
		"sink", s.Name(),
		"table", table,
		"count", len(rows),
		"duration", time.Since(start),
	)
	return Result{Written: len(rows)}, nil
}
