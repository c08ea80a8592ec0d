package lease

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/daily-stats/internal/model"
)

var (
	// ErrConflict means a record for the day already exists, or a
	// conditional update lost to a concurrent writer.
	ErrConflict = errors.New("lease: conflict")

	// ErrUnavailable means the store could not be reached.
	ErrUnavailable = errors.New("lease: store unavailable")

	// ErrNotFound means no record exists for the day.
	ErrNotFound = errors.New("lease: not found")
)

// Store persists one lease record per day and enforces its uniqueness.
type Store interface {
	// Name identifies the backend in logs.
	Name() string

	// Insert creates the record. Fails with ErrConflict when the day exists.
	Insert(ctx context.Context, rec model.LeaseRecord) error

	// Get returns the record of day or ErrNotFound.
	Get(ctx context.Context, day string) (model.LeaseRecord, error)

	// Takeover resets the record of day to running at startedAt, only if its
	// started_at still equals observed. Fails with ErrConflict otherwise.
	Takeover(ctx context.Context, day string, observed, startedAt time.Time) error

	// Complete sets finished_at and status. Fails with ErrNotFound when the
	// day has no record.
	Complete(ctx context.Context, day string, status model.LeaseStatus, finishedAt time.Time) error
}
