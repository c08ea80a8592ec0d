package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rickgao/daily-stats/internal/lease"
	"github.com/rickgao/daily-stats/internal/metrics"
	"github.com/rickgao/daily-stats/internal/model"
	"github.com/rickgao/daily-stats/internal/report"
)

// Leaser gates a run on today's lease.
type Leaser interface {
	Acquire(ctx context.Context) (lease.Decision, error)
	Finish(ctx context.Context, status model.LeaseStatus) error
	RunID() string
}

// Prefetcher warms the event cache of a run.
type Prefetcher interface {
	Prefetch(ctx context.Context, eventTypes []string, w model.Window) error
}

// Status is the outcome of one run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result describes a finished run.
type Result struct {
	RunID     string
	Status    Status
	Window    model.Window
	Decision  lease.Decision
	Durations map[string]time.Duration
}

// Config holds run settings.
type Config struct {
	Instance       string // grouping label for pushed metrics
	PushgatewayURL string // empty disables pushing
	MetricsJob     string // Pushgateway job name
}

// Runner executes one daily run.
type Runner struct {
	cfg     Config
	leaser  Leaser
	loader  Prefetcher
	jobs    []report.Job
	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithPrefetcher sets the loader warmed before jobs run.
func WithPrefetcher(p Prefetcher) Option {
	return func(r *Runner) { r.loader = p }
}

// WithMetrics sets the run's recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithClock overrides the time source used for the analysis window.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a runner.
func New(cfg Config, leaser Leaser, jobs []report.Job, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		leaser: leaser,
		jobs:   jobs,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs a full run. A denied lease is a "skipped" result, not an
// error. Once the lease is held the run is not cancelled by ctx.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	res := Result{RunID: r.leaser.RunID()}
	logger := r.logger.With("run_id", res.RunID)

	decision, err := r.leaser.Acquire(ctx)
	if err != nil {
		res.Status = StatusFailed
		return res, fmt.Errorf("acquire lease: %w", err)
	}
	res.Decision = decision
	if !decision.Granted() {
		res.Status = StatusSkipped
		logger.Info("daily analysis skipped", "reason", "job already running or completed for today")
		r.push(ctx, logger)
		return res, nil
	}

	ctx = context.WithoutCancel(ctx)
	res.Window = model.AnalysisWindow(r.now())
	logger.Info("daily analysis started",
		"window_start", res.Window.Start,
		"window_end", res.Window.End,
		"lease", decision.Outcome,
		"backend", decision.Backend,
	)

	runErr := r.runJobs(ctx, res.Window, logger)
	res.Status = StatusOK
	if runErr != nil {
		res.Status = StatusFailed
	}

	if err := r.leaser.Finish(ctx, model.LeaseStatus(res.Status)); err != nil {
		logger.Error("daily job status sync failed", "error", err)
		runErr = errors.Join(runErr, fmt.Errorf("finish lease: %w", err))
	}

	res.Durations = r.metrics.Durations()
	logger.Info("daily analysis finished", "status", res.Status, "durations", res.Durations)
	r.push(ctx, logger)

	return res, runErr
}

// runJobs prefetches and runs every job, stopping at the first failure.
func (r *Runner) runJobs(ctx context.Context, w model.Window, logger *slog.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			logger.Error("daily analysis panicked", "panic", p)
		}
	}()

	if r.loader != nil {
		stop := r.metrics.Time("prefetch")
		err := r.loader.Prefetch(ctx, eventTypes(r.jobs), w)
		stop()
		if err != nil {
			return fmt.Errorf("prefetch: %w", err)
		}
	}

	for _, job := range r.jobs {
		stop := r.metrics.Time(job.Name())
		err := job.Run(ctx, w)
		stop()
		if err != nil {
			logger.Error("module failed", "module", job.Name(), "error", err)
			return err
		}
		logger.Info("module completed", "module", job.Name())
	}
	return nil
}

// push sends the run's metrics when configured. Failures are logged only.
func (r *Runner) push(ctx context.Context, logger *slog.Logger) {
	if r.cfg.PushgatewayURL == "" {
		return
	}
	if err := r.metrics.Push(ctx, r.cfg.PushgatewayURL, r.cfg.MetricsJob, r.cfg.Instance); err != nil {
		logger.Warn("metrics push failed", "error", err)
	}
}

// eventTypes returns the distinct event types read by jobs.
func eventTypes(jobs []report.Job) []string {
	var out []string
	for _, j := range jobs {
		for _, t := range j.EventTypes() {
			if !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}
