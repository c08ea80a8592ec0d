package lease

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rickgao/daily-stats/internal/api"
	"github.com/rickgao/daily-stats/internal/model"
)

// DefaultTable holds one lease row per day.
const DefaultTable = "daily_job_runs"

// Compile-time checks.
var (
	_ Store = (*RESTStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// RESTStore keeps lease rows in a PostgREST table with a unique date column.
type RESTStore struct {
	client *api.Client
	table  string
}

// NewRESTStore creates a store over table.
func NewRESTStore(client *api.Client, table string) *RESTStore {
	if table == "" {
		table = DefaultTable
	}
	return &RESTStore{client: client, table: table}
}

func (s *RESTStore) Name() string { return "rest" }

func (s *RESTStore) Insert(ctx context.Context, rec model.LeaseRecord) error {
	if err := s.client.Insert(ctx, s.table, remoteRecord(rec), api.InsertOptions{}); err != nil {
		return restError(err)
	}
	return nil
}

func (s *RESTStore) Get(ctx context.Context, day string) (model.LeaseRecord, error) {
	var rows []wireRecord
	query := url.Values{
		"select": {"date,started_at,finished_at,status"},
		"date":   {api.Eq(day)},
		"limit":  {"1"},
	}
	if err := s.client.Select(ctx, s.table, query, &rows); err != nil {
		return model.LeaseRecord{}, restError(err)
	}
	if len(rows) == 0 {
		return model.LeaseRecord{}, ErrNotFound
	}
	return rows[0].record(), nil
}

func (s *RESTStore) Takeover(ctx context.Context, day string, observed, startedAt time.Time) error {
	filter := url.Values{
		"date":       {api.Eq(day)},
		"started_at": {api.Eq(observed.UTC().Format(time.RFC3339Nano))},
	}
	payload := map[string]any{
		"status":      model.LeaseRunning,
		"started_at":  startedAt.UTC(),
		"finished_at": nil,
	}

	var updated []wireRecord
	if err := s.client.Update(ctx, s.table, filter, payload, &updated); err != nil {
		return restError(err)
	}
	if len(updated) == 0 {
		return ErrConflict
	}
	return nil
}

func (s *RESTStore) Complete(ctx context.Context, day string, status model.LeaseStatus, finishedAt time.Time) error {
	filter := url.Values{"date": {api.Eq(day)}}
	payload := map[string]any{
		"status":      status,
		"finished_at": finishedAt.UTC(),
	}

	var updated []wireRecord
	if err := s.client.Update(ctx, s.table, filter, payload, &updated); err != nil {
		return restError(err)
	}
	if len(updated) == 0 {
		return ErrNotFound
	}
	return nil
}

// restError maps transport failures onto the lease sentinels.
func restError(err error) error {
	switch {
	case api.IsConflict(err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case api.IsTransient(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}

// remoteRecord strips the fields only the local file carries.
func remoteRecord(rec model.LeaseRecord) model.LeaseRecord {
	rec.Backend = ""
	rec.RunID = ""
	return rec
}
