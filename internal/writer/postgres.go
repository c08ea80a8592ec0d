package writer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/daily-stats/internal/metrics"
)

// Batcher is the subset of *pgxpool.Pool used by PostgresSink.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStats counts sink activity over its lifetime.
type PostgresStats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Batches   int64
}

// PostgresSink writes rows with one pgx.Batch per call.
type PostgresSink struct {
	db      Batcher
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu    sync.Mutex
	stats PostgresStats
}

// NewPostgresSink creates a sink over db.
func NewPostgresSink(db Batcher, logger *slog.Logger, rec *metrics.Recorder) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{db: db, logger: logger, metrics: rec}
}

func (s *PostgresSink) Name() string { return "postgres" }

// Stats returns the current counters.
func (s *PostgresSink) Stats() PostgresStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Write queues one INSERT per row. With a conflict target and no Upsert,
// colliding rows are skipped and counted as conflicts.
func (s *PostgresSink) Write(ctx context.Context, table string, rows []Row, opts WriteOptions) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}

	start := time.Now()
	batch := &pgx.Batch{}
	for _, row := range rows {
		sql, args := insertSQL(table, row, opts)
		batch.Queue(sql, args...)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	var res Result
	for range rows {
		ct, err := results.Exec()
		if err != nil {
			s.mu.Lock()
			s.stats.Errors++
			s.mu.Unlock()
			return res, fmt.Errorf("insert %s: %w", table, err)
		}
		if ct.RowsAffected() == 0 {
			res.Conflicts++
		} else {
			res.Written++
		}
	}

	s.mu.Lock()
	s.stats.Inserts += int64(res.Written)
	s.stats.Conflicts += int64(res.Conflicts)
	s.stats.Batches++
	s.mu.Unlock()

	s.metrics.AddRowsOut(res.Written)
	s.logger.Debug("rows written",
		"sink", s.Name(),
		"table", table,
		"count", res.Written,
		"conflicts", res.Conflicts,
		"duration", time.Since(start),
	)
	return res, nil
}

// insertSQL builds the statement for one row. Columns are sorted so the
// statement text is stable.
func insertSQL(table string, row Row, opts WriteOptions) (string, []any) {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	slices.Sort(cols)

	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = pgx.Identifier{col}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "),
	)

	if len(opts.OnConflict) > 0 {
		target := make([]string, len(opts.OnConflict))
		for i, col := range opts.OnConflict {
			target[i] = pgx.Identifier{col}.Sanitize()
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s)", strings.Join(target, ", "))

		var sets []string
		if opts.Upsert {
			for _, col := range cols {
				if slices.Contains(opts.OnConflict, col) {
					continue
				}
				q := pgx.Identifier{col}.Sanitize()
				sets = append(sets, q+" = EXCLUDED."+q)
			}
		}
		if len(sets) > 0 {
			b.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
		} else {
			b.WriteString(" DO NOTHING")
		}
	}

	return b.String(), args
}
