package lease

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/daily-stats/internal/metrics"
	"github.com/rickgao/daily-stats/internal/model"
)

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	mu   sync.Mutex
	rows map[string]model.LeaseRecord

	insertErr   error
	getErr      error
	takeoverErr error
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]model.LeaseRecord)}
}

func (s *memStore) Name() string { return "mem" }

func (s *memStore) Insert(_ context.Context, rec model.LeaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, ok := s.rows[rec.Day]; ok {
		return ErrConflict
	}
	s.rows[rec.Day] = remoteRecord(rec)
	return nil
}

func (s *memStore) Get(_ context.Context, day string) (model.LeaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return model.LeaseRecord{}, s.getErr
	}
	rec, ok := s.rows[day]
	if !ok {
		return model.LeaseRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Takeover(_ context.Context, day string, observed, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeoverErr != nil {
		return s.takeoverErr
	}
	rec, ok := s.rows[day]
	if !ok || !rec.StartedAt.Equal(observed) {
		return ErrConflict
	}
	s.rows[day] = model.LeaseRecord{Day: day, StartedAt: startedAt, Status: model.LeaseRunning}
	return nil
}

func (s *memStore) Complete(_ context.Context, day string, status model.LeaseStatus, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	rec, ok := s.rows[day]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.FinishedAt = &finishedAt
	s.rows[day] = rec
	return nil
}

func (s *memStore) row(day string) (model.LeaseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[day]
	return rec, ok
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

const today = "2025-03-10"

type harness struct {
	store    *memStore
	clock    *clock
	fallback *FallbackFile
	logs     *bytes.Buffer
	rec      *metrics.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &harness{
		store:    newMemStore(),
		clock:    &clock{t: time.Date(2025, 3, 10, 11, 5, 0, 0, time.UTC)},
		fallback: NewFallbackFile(filepath.Join(t.TempDir(), "lock.json"), logger),
		logs:     logs,
		rec:      metrics.NewRecorder(),
	}
}

func (h *harness) manager(runID string) *Manager {
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewManager(h.store,
		WithFallback(h.fallback),
		WithClock(h.clock.now),
		WithRunID(runID),
		WithLogger(logger),
		WithMetrics(h.rec),
	)
}

func TestAcquire_FirstRunOfDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.manager("run-1").Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, Acquired, d.Outcome)
	assert.Equal(t, model.BackendRemote, d.Backend)
	assert.True(t, d.Granted())

	rec, ok := h.store.row(today)
	require.True(t, ok)
	assert.Equal(t, model.LeaseRunning, rec.Status)
	assert.True(t, rec.StartedAt.Equal(h.clock.t))
	assert.Nil(t, rec.FinishedAt)

	local := h.fallback.Read()
	require.NotNil(t, local)
	assert.Equal(t, model.BackendRemote, local.Backend)
	assert.Equal(t, "run-1", local.RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.rec.LeaseOutcomes.WithLabelValues("acquired", model.BackendRemote)))
}

func TestAcquire_DeniedWithinThresholdThenTakenOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.manager("run-1").Acquire(ctx)
	require.NoError(t, err)
	require.True(t, first.Granted())

	h.clock.advance(DefaultStaleAfter - time.Minute)
	second, err := h.manager("run-2").Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, Denied, second.Outcome)
	require.NotNil(t, second.Existing)
	assert.Equal(t, model.LeaseRunning, second.Existing.Status)

	// The first run crashed without finishing.
	h.clock.advance(2 * time.Minute)
	third, err := h.manager("run-3").Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, TakenOver, third.Outcome)
	require.NotNil(t, third.Existing)
	assert.Equal(t, model.LeaseRunning, third.Existing.Status)

	rec, _ := h.store.row(today)
	assert.True(t, rec.StartedAt.Equal(h.clock.t))
	assert.Equal(t, model.LeaseRunning, rec.Status)
}

func TestAcquire_ExistingRecord(t *testing.T) {
	tests := []struct {
		name   string
		status model.LeaseStatus
		age    time.Duration
		want   Outcome
	}{
		{"ok fresh", model.LeaseOK, time.Hour, Denied},
		{"ok stale", model.LeaseOK, 4 * time.Hour, TakenOver},
		{"failed fresh", model.LeaseFailed, time.Minute, TakenOver},
		{"running fresh", model.LeaseRunning, time.Minute, Denied},
		{"running same instant", model.LeaseRunning, 0, Acquired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.rows[today] = model.LeaseRecord{Day: today, StartedAt: h.clock.t.Add(-tt.age), Status: tt.status}

			d, err := h.manager("run").Acquire(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Outcome)
		})
	}
}

func TestAcquire_TakeoverRaceLost(t *testing.T) {
	h := newHarness(t)
	h.store.rows[today] = model.LeaseRecord{Day: today, StartedAt: h.clock.t.Add(-time.Hour), Status: model.LeaseFailed}
	h.store.takeoverErr = ErrConflict

	d, err := h.manager("run").Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Denied, d.Outcome)
}

func TestAcquire_RecordUnreadableAfterConflict(t *testing.T) {
	h := newHarness(t)
	h.store.rows[today] = model.LeaseRecord{Day: today, StartedAt: h.clock.t, Status: model.LeaseRunning}
	h.store.getErr = ErrUnavailable

	d, err := h.manager("run").Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Denied, d.Outcome)
	assert.Nil(t, d.Existing)
}

func TestAcquire_StoreUnavailableGrantsLocalLease(t *testing.T) {
	h := newHarness(t)
	h.store.insertErr = ErrUnavailable

	d, err := h.manager("run-1").Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AcquiredLocal, d.Outcome)
	assert.Equal(t, model.BackendLocalFallback, d.Backend)
	assert.True(t, d.Granted())

	local := h.fallback.Read()
	require.NotNil(t, local)
	assert.Equal(t, today, local.Day)
	assert.Equal(t, model.LeaseRunning, local.Status)
	assert.Equal(t, model.BackendLocalFallback, local.Backend)
	assert.Equal(t, "run-1", local.RunID)

	assert.Contains(t, h.logs.String(), "level=WARN")
	assert.Contains(t, h.logs.String(), "backend=local_fallback")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.rec.LeaseOutcomes.WithLabelValues("acquired_local", model.BackendLocalFallback)))
}

func TestAcquire_StoreUnavailableRespectsLocalRecord(t *testing.T) {
	h := newHarness(t)
	h.store.insertErr = ErrUnavailable

	first, err := h.manager("run-1").Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, AcquiredLocal, first.Outcome)

	h.clock.advance(10 * time.Minute)
	second, err := h.manager("run-2").Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Denied, second.Outcome)
	assert.Equal(t, model.BackendLocalFallback, second.Backend)

	// Yesterday's local record never blocks today.
	h.clock.advance(24 * time.Hour)
	third, err := h.manager("run-3").Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AcquiredLocal, third.Outcome)
}

func TestAcquire_OtherErrorsReturned(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("bad request")
	h.store.insertErr = boom

	_, err := h.manager("run").Acquire(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFinish_UpdatesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.manager("run-1")

	_, err := m.Acquire(ctx)
	require.NoError(t, err)
	h.clock.advance(20 * time.Minute)
	require.NoError(t, m.Finish(ctx, model.LeaseOK))

	rec, _ := h.store.row(today)
	assert.Equal(t, model.LeaseOK, rec.Status)
	require.NotNil(t, rec.FinishedAt)
	assert.True(t, rec.FinishedAt.Equal(h.clock.t))

	local := h.fallback.Read()
	require.NotNil(t, local)
	assert.Equal(t, model.LeaseOK, local.Status)
	assert.Equal(t, model.BackendRemote, local.Backend)
	assert.True(t, local.StartedAt.Equal(h.clock.t.Add(-20*time.Minute)))
}

func TestFinish_WithoutRecordInserts(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.manager("run").Finish(context.Background(), model.LeaseFailed))

	rec, ok := h.store.row(today)
	require.True(t, ok)
	assert.Equal(t, model.LeaseFailed, rec.Status)
	require.NotNil(t, rec.FinishedAt)
}

func TestFinish_StoreUnavailableKeepsOutcomeLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.manager("run-1")

	_, err := m.Acquire(ctx)
	require.NoError(t, err)

	h.store.completeErr = ErrUnavailable
	h.clock.advance(time.Minute)
	require.NoError(t, m.Finish(ctx, model.LeaseOK))

	local := h.fallback.Read()
	require.NotNil(t, local)
	assert.Equal(t, model.LeaseOK, local.Status)
	assert.Equal(t, model.BackendLocalFallback, local.Backend)
	assert.Contains(t, h.logs.String(), "backend=local_fallback")

	// The store comes back: the next remote write replaces the local record.
	h.store.completeErr = nil
	require.NoError(t, m.Finish(ctx, model.LeaseFailed))
	local = h.fallback.Read()
	require.NotNil(t, local)
	assert.Equal(t, model.BackendRemote, local.Backend)
	assert.Equal(t, model.LeaseFailed, local.Status)
}

func TestFinish_InvalidStatus(t *testing.T) {
	h := newHarness(t)
	err := h.manager("run").Finish(context.Background(), model.LeaseRunning)

	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestFinish_OtherErrorsReturned(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("forbidden")
	h.store.completeErr = boom

	assert.ErrorIs(t, h.manager("run").Finish(context.Background(), model.LeaseOK), boom)
}

func TestManager_NilFallback(t *testing.T) {
	store := newMemStore()
	store.insertErr = ErrUnavailable
	m := NewManager(store)

	d, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AcquiredLocal, d.Outcome)
	assert.NotEmpty(t, m.RunID())
}

func TestAcquire_StoreUnavailableRespectsZonelessLocalRecord(t *testing.T) {
	h := newHarness(t)
	h.store.insertErr = ErrUnavailable

	started := h.clock.t.Add(-10 * time.Minute).Format("2006-01-02T15:04:05.000000")
	data := `{"date": "` + today + `", "status": "running", "started_at": "` + started + `"}`
	require.NoError(t, os.WriteFile(h.fallback.Path(), []byte(data), 0o644))

	d, err := h.manager("run-1").Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Denied, d.Outcome)
	assert.NotContains(t, h.logs.String(), "corrupt lease fallback")
}
