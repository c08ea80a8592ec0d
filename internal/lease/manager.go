package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/daily-stats/internal/metrics"
	"github.com/rickgao/daily-stats/internal/model"
)

// DefaultStaleAfter is how long a running or ok record blocks other runs.
const DefaultStaleAfter = 180 * time.Minute

// Manager acquires and finishes the lease of the current UTC day.
type Manager struct {
	store      Store
	fallback   *FallbackFile
	staleAfter time.Duration
	now        func() time.Time
	runID      string
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithStaleAfter sets the stale threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithFallback sets the local fallback file. Without it degraded leases
// are granted but not persisted.
func WithFallback(f *FallbackFile) Option {
	return func(m *Manager) {
		m.fallback = f
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRunID sets the identifier written to local records.
func WithRunID(id string) Option {
	return func(m *Manager) {
		m.runID = id
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records acquisition outcomes into rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = rec
	}
}

// NewManager creates a lease manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		runID:      uuid.NewString(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("lease_store", store.Name())
	return m
}

// RunID returns the identifier of this manager's run.
func (m *Manager) RunID() string {
	return m.runID
}

// Acquire tries to claim today. Remote failures other than conflicts and
// connectivity loss are returned as errors.
func (m *Manager) Acquire(ctx context.Context) (Decision, error) {
	now := m.now().UTC()
	day := model.DayOf(now)
	rec := model.LeaseRecord{Day: day, StartedAt: now, Status: model.LeaseRunning}

	err := m.store.Insert(ctx, rec)
	switch {
	case err == nil:
		m.mirror(rec)
		return m.decided(Decision{Outcome: Acquired, Backend: model.BackendRemote}, day), nil
	case errors.Is(err, ErrConflict):
		return m.resolveConflict(ctx, now)
	case errors.Is(err, ErrUnavailable):
		return m.acquireLocal(now, err)
	default:
		return Decision{}, fmt.Errorf("acquire lease %s: %w", day, err)
	}
}

// resolveConflict decides from the record that blocked the insert.
func (m *Manager) resolveConflict(ctx context.Context, now time.Time) (Decision, error) {
	day := model.DayOf(now)
	denied := Decision{Outcome: Denied, Backend: model.BackendRemote}

	var existing *model.LeaseRecord
	got, err := m.store.Get(ctx, day)
	switch {
	case err == nil:
		existing = &got
		denied.Existing = existing
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrUnavailable):
		// The day is owned by someone; without the record staleness is unknown.
		m.logger.Warn("lease record unreadable after conflict", "day", day, "error", err)
		return m.decided(denied, day), nil
	default:
		return Decision{}, fmt.Errorf("read lease %s: %w", day, err)
	}

	// A retried insert that committed on the first attempt finds our own row.
	if ownedBy(existing, now) {
		m.mirror(model.LeaseRecord{Day: day, StartedAt: now, Status: model.LeaseRunning})
		return m.decided(Decision{Outcome: Acquired, Backend: model.BackendRemote}, day), nil
	}

	switch nextAction(existing, now, m.staleAfter) {
	case actDeny:
		return m.decided(denied, day), nil

	case actInsert:
		rec := model.LeaseRecord{Day: day, StartedAt: now, Status: model.LeaseRunning}
		err := m.store.Insert(ctx, rec)
		switch {
		case err == nil:
			m.mirror(rec)
			return m.decided(Decision{Outcome: Acquired, Backend: model.BackendRemote}, day), nil
		case errors.Is(err, ErrConflict), errors.Is(err, ErrUnavailable):
			return m.decided(denied, day), nil
		default:
			return Decision{}, fmt.Errorf("acquire lease %s: %w", day, err)
		}

	default:
		err := m.store.Takeover(ctx, day, existing.StartedAt, now)
		switch {
		case err == nil:
			m.logger.Info("lease taken over",
				"day", day,
				"previous_status", existing.Status,
				"previous_started_at", existing.StartedAt,
			)
			m.mirror(model.LeaseRecord{Day: day, StartedAt: now, Status: model.LeaseRunning})
			return m.decided(Decision{Outcome: TakenOver, Existing: existing, Backend: model.BackendRemote}, day), nil
		case errors.Is(err, ErrConflict) && m.reclaimed(ctx, day, now):
			m.mirror(model.LeaseRecord{Day: day, StartedAt: now, Status: model.LeaseRunning})
			return m.decided(Decision{Outcome: TakenOver, Existing: existing, Backend: model.BackendRemote}, day), nil
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
			return m.decided(denied, day), nil
		default:
			return Decision{}, fmt.Errorf("take over lease %s: %w", day, err)
		}
	}
}

// reclaimed reports whether the row for day already carries our start time,
// as after a takeover that committed before its response was lost.
func (m *Manager) reclaimed(ctx context.Context, day string, startedAt time.Time) bool {
	got, err := m.store.Get(ctx, day)
	return err == nil && ownedBy(&got, startedAt)
}

// ownedBy reports whether rec is the running row written with startedAt.
// Stores keep microseconds.
func ownedBy(rec *model.LeaseRecord, startedAt time.Time) bool {
	return rec != nil &&
		rec.Status == model.LeaseRunning &&
		rec.StartedAt.Truncate(time.Microsecond).Equal(startedAt.Truncate(time.Microsecond))
}

// acquireLocal grants a lease from the local file when the store is down.
func (m *Manager) acquireLocal(now time.Time, cause error) (Decision, error) {
	day := model.DayOf(now)

	var existing *model.LeaseRecord
	if local := m.fallback.Read(); local != nil && local.Day == day {
		existing = local
	}
	if nextAction(existing, now, m.staleAfter) == actDeny {
		return m.decided(Decision{Outcome: Denied, Existing: existing, Backend: model.BackendLocalFallback}, day), nil
	}

	rec := model.LeaseRecord{
		Day:       day,
		StartedAt: now,
		Status:    model.LeaseRunning,
		Backend:   model.BackendLocalFallback,
		RunID:     m.runID,
	}
	if err := m.fallback.Write(rec); err != nil {
		m.logger.Error("write lease fallback", "path", m.fallback.Path(), "error", err)
	}

	m.logger.Warn("lease store unreachable, running on local lease",
		"backend", model.BackendLocalFallback,
		"day", day,
		"error", cause,
	)
	return m.decided(Decision{Outcome: AcquiredLocal, Existing: existing, Backend: model.BackendLocalFallback}, day), nil
}

// decided logs and counts a decision.
func (m *Manager) decided(d Decision, day string) Decision {
	m.metrics.ObserveLease(d.Outcome.String(), d.Backend)
	if d.Outcome == Denied {
		attrs := []any{"day", day, "backend", d.Backend}
		if d.Existing != nil {
			attrs = append(attrs, "status", d.Existing.Status, "started_at", d.Existing.StartedAt)
		}
		m.logger.Info("lease denied", attrs...)
	} else if d.Outcome != AcquiredLocal {
		m.logger.Info("lease acquired", "day", day, "outcome", d.Outcome, "run_id", m.runID)
	}
	return d
}

// Finish records the outcome of today's run. It keys only on the current
// date, so it works without an in-memory acquisition. When the store is
// unreachable the outcome is kept in the local file and Finish succeeds.
func (m *Manager) Finish(ctx context.Context, status model.LeaseStatus) error {
	if !validFinish(status) {
		return &model.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot finish with %q", status)}
	}

	now := m.now().UTC()
	day := model.DayOf(now)

	err := m.store.Complete(ctx, day, status, now)
	if errors.Is(err, ErrNotFound) {
		m.logger.Warn("no lease record to complete, inserting", "day", day, "status", status)
		err = m.store.Insert(ctx, model.LeaseRecord{Day: day, StartedAt: now, FinishedAt: &now, Status: status})
		if errors.Is(err, ErrConflict) {
			err = m.store.Complete(ctx, day, status, now)
		}
	}

	switch {
	case err == nil:
		m.logger.Info("lease finished", "day", day, "status", status)
		started := now
		if local := m.fallback.Read(); local != nil && local.Day == day {
			started = local.StartedAt
		}
		m.mirror(model.LeaseRecord{Day: day, StartedAt: started, FinishedAt: &now, Status: status})
		return nil

	case errors.Is(err, ErrUnavailable):
		rec := model.LeaseRecord{
			Day:        day,
			StartedAt:  now,
			FinishedAt: &now,
			Status:     status,
			Backend:    model.BackendLocalFallback,
			RunID:      m.runID,
		}
		if local := m.fallback.Read(); local != nil && local.Day == day {
			rec.StartedAt = local.StartedAt
		}
		if werr := m.fallback.Write(rec); werr != nil {
			return fmt.Errorf("finish lease %s: %w", day, errors.Join(err, werr))
		}
		m.logger.Warn("lease store unreachable, outcome kept locally",
			"backend", model.BackendLocalFallback,
			"day", day,
			"status", status,
			"path", m.fallback.Path(),
		)
		return nil

	default:
		return fmt.Errorf("finish lease %s: %w", day, err)
	}
}

// mirror rewrites the fallback file from a successful remote write.
func (m *Manager) mirror(rec model.LeaseRecord) {
	rec.Backend = model.BackendRemote
	rec.RunID = m.runID
	if err := m.fallback.Write(rec); err != nil {
		m.logger.Warn("mirror lease fallback", "path", m.fallback.Path(), "error", err)
	}
}
