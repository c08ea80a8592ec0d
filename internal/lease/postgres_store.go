package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/daily-stats/internal/model"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps lease rows in a Postgres table keyed by date.
type PostgresStore struct {
	db    DB
	table string
}

// NewPostgresStore creates a store over table.
func NewPostgresStore(db DB, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{db: db, table: pgx.Identifier{table}.Sanitize()}
}

func (s *PostgresStore) Name() string { return "postgres" }

// EnsureSchema creates the lease table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			date        DATE PRIMARY KEY,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status      TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create lease table: %w", pgError(err))
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec model.LeaseRecord) error {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO `+s.table+` (date, started_at, finished_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date) DO NOTHING
	`, rec.Day, rec.StartedAt, rec.FinishedAt, string(rec.Status))
	if err != nil {
		return pgError(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, day string) (model.LeaseRecord, error) {
	var (
		rec    model.LeaseRecord
		status string
	)
	err := s.db.QueryRow(ctx, `
		SELECT date::text, started_at, finished_at, status
		FROM `+s.table+`
		WHERE date = $1
	`, day).Scan(&rec.Day, &rec.StartedAt, &rec.FinishedAt, &status)
	if err != nil {
		return model.LeaseRecord{}, pgError(err)
	}
	rec.Status = model.LeaseStatus(status)
	rec.StartedAt = rec.StartedAt.UTC()
	return rec, nil
}

func (s *PostgresStore) Takeover(ctx context.Context, day string, observed, startedAt time.Time) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET status = $3, started_at = $4, finished_at = NULL
		WHERE date = $1 AND started_at = $2
	`, day, observed, string(model.LeaseRunning), startedAt)
	if err != nil {
		return pgError(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, day string, status model.LeaseStatus, finishedAt time.Time) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET status = $2, finished_at = $3
		WHERE date = $1
	`, day, string(status), finishedAt)
	if err != nil {
		return pgError(err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// pgError maps driver failures onto the lease sentinels. Server-side errors
// are returned as they are; anything else means the database was not reached.
func pgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
