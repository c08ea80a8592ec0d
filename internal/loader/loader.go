package loader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/daily-stats/internal/api"
	"github.com/rickgao/daily-stats/internal/metrics"
	"github.com/rickgao/daily-stats/internal/model"
)

// Selector reads rows from a PostgREST table. *api.Client implements it.
type Selector interface {
	Select(ctx context.Context, table string, query url.Values, out any) error
}

// Config holds loader configuration.
type Config struct {
	Table       string // Log table (default: logs)
	PageSize    int    // Rows per request (default: 1000)
	Concurrency int    // Max concurrent loads in Prefetch (default: 4)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:       "logs",
		PageSize:    1000,
		Concurrency: 4,
	}
}

type cacheKey struct {
	eventType string
	startMs   int64
	endMs     int64
}

func (k cacheKey) String() string {
	return k.eventType + "|" + strconv.FormatInt(k.startMs, 10) + "|" + strconv.FormatInt(k.endMs, 10)
}

// Loader pages events out of the remote log and caches them per run.
type Loader struct {
	cfg     Config
	src     Selector
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu    sync.Mutex
	cache map[cacheKey][]model.Event
	group singleflight.Group
}

// New creates a Loader. A nil logger uses slog.Default; a nil recorder is allowed.
func New(cfg Config, src Selector, logger *slog.Logger, rec *metrics.Recorder) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Table == "" {
		cfg.Table = DefaultConfig().Table
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Loader{
		cfg:     cfg,
		src:     src,
		logger:  logger,
		metrics: rec,
		cache:   make(map[cacheKey][]model.Event),
	}
}

// Load returns every event of eventType with a timestamp in [w.Start, w.End],
// sorted by timestamp with ties in source order. Repeat calls for the same
// window are served from the cache and return independent copies.
// Transport failures are returned as is, wrapped with context.
func (l *Loader) Load(ctx context.Context, eventType string, w model.Window) ([]model.Event, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	key := cacheKey{eventType: eventType, startMs: w.StartMillis(), endMs: w.EndMillis()}
	if events, ok := l.cached(key); ok {
		return model.CloneEvents(events), nil
	}

	v, err, _ := l.group.Do(key.String(), func() (any, error) {
		if events, ok := l.cached(key); ok {
			return events, nil
		}
		events, err := l.fetchAll(ctx, eventType, w)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[key] = events
		l.mu.Unlock()
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	return model.CloneEvents(v.([]model.Event)), nil
}

// Prefetch loads several event types concurrently so later Load calls hit the cache.
func (l *Loader) Prefetch(ctx context.Context, eventTypes []string, w model.Window) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)

	for _, eventType := range eventTypes {
		g.Go(func() error {
			_, err := l.Load(gctx, eventType, w)
			return err
		})
	}

	return g.Wait()
}

// LastBefore returns the most recent event of eventType strictly before t,
// or nil when there is none. It is used to find the state in effect when a
// window opens.
func (l *Loader) LastBefore(ctx context.Context, eventType string, t time.Time) (*model.Event, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("event", api.Eq(eventType))
	query.Add("ts", api.Lt(strconv.FormatInt(t.UnixMilli(), 10)))
	query.Set("order", "ts.desc,id.desc")
	query.Set("limit", "1")

	var rows []logRow
	if err := l.src.Select(ctx, l.cfg.Table, query, &rows); err != nil {
		return nil, fmt.Errorf("last %s before %s: %w", eventType, t.Format(time.RFC3339), err)
	}
	l.metrics.AddRowsIn(len(rows))

	if len(rows) == 0 {
		return nil, nil
	}
	e := rows[0].toEvent()
	return &e, nil
}

func (l *Loader) cached(key cacheKey) ([]model.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	events, ok := l.cache[key]
	return events, ok
}

// fetchAll walks the cursor from w.Start until a short page or until the
// cursor passes w.End.
func (l *Loader) fetchAll(ctx context.Context, eventType string, w model.Window) ([]model.Event, error) {
	start := time.Now()
	endMs := w.EndMillis()
	cursor := w.StartMillis()

	events := make([]model.Event, 0)
	pages := 0

	for {
		rows, err := l.fetchPage(ctx, eventType, cursor, endMs)
		if err != nil {
			return nil, fmt.Errorf("load %s page %d: %w", eventType, pages, err)
		}
		pages++
		l.metrics.AddRowsIn(len(rows))

		if len(rows) == 0 {
			break
		}

		full := len(rows) >= l.cfg.PageSize
		kept, next, stalled := advanceCursor(rows, full)
		if stalled {
			l.logger.Warn("page filled by a single timestamp, advancing cursor by 1ms",
				"event", eventType,
				"ts", rows[0].TS,
				"rows", len(rows),
			)
		}

		for _, r := range kept {
			events = append(events, r.toEvent())
		}
		cursor = next

		if !full || cursor > endMs {
			break
		}
	}

	events = slices.DeleteFunc(events, func(e model.Event) bool { return !w.Contains(e.Timestamp) })
	slices.SortStableFunc(events, func(a, b model.Event) int { return a.Timestamp.Compare(b.Timestamp) })

	l.logger.Debug("events loaded",
		"event", eventType,
		"window", w.String(),
		"count", len(events),
		"pages", pages,
		"duration", time.Since(start),
	)

	return events, nil
}

func (l *Loader) fetchPage(ctx context.Context, eventType string, fromMs, toMs int64) ([]logRow, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("event", api.Eq(eventType))
	query.Add("ts", api.Gte(strconv.FormatInt(fromMs, 10)))
	query.Add("ts", api.Lte(strconv.FormatInt(toMs, 10)))
	query.Set("order", "ts.asc,id.asc")
	query.Set("limit", strconv.Itoa(l.cfg.PageSize))

	var rows []logRow
	if err := l.src.Select(ctx, l.cfg.Table, query, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// advanceCursor decides which rows of a page to keep and where the next page
// starts.
//
// A short page is kept whole and the cursor moves past its last timestamp.
// A full page may have been cut inside a run of equal timestamps, so that
// trailing run is dropped and re-read whole by the next page starting at its
// timestamp. When the whole page is one timestamp there is nothing to drop:
// the page is kept and the cursor moves 1ms past it so the loop always makes
// progress; stalled reports this case because rows beyond the page that
// share the timestamp cannot be reached.
func advanceCursor(rows []logRow, full bool) (kept []logRow, next int64, stalled bool) {
	last := rows[len(rows)-1].TS
	if !full {
		return rows, last + 1, false
	}

	i := len(rows)
	for i > 0 && rows[i-1].TS == last {
		i--
	}

	if i == 0 {
		return rows, last + 1, true
	}
	return rows[:i], last, false
}
