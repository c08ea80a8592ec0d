package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunFunc performs one run.
type RunFunc func(ctx context.Context) (Result, error)

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval time.Duration // time between runs (default: 1h)
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Interval: time.Hour}
}

// Scheduler invokes a RunFunc immediately and then on every interval. Runs
// that fail are logged and retried on the next tick; the lease makes extra
// ticks on the same day cheap skips.
type Scheduler struct {
	cfg    SchedulerConfig
	run    RunFunc
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig, run RunFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerConfig().Interval
	}
	return &Scheduler{cfg: cfg, run: run, logger: logger}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scheduler started", "interval", s.cfg.Interval)
	return nil
}

// Stop cancels future runs and waits for an in-flight run to complete.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop is the main scheduling loop.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.tick()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick performs one run. A started run is not cancelled by Stop.
func (s *Scheduler) tick() {
	start := time.Now()
	res, err := s.run(context.WithoutCancel(s.ctx))
	if err != nil {
		s.logger.Error("scheduled run failed",
			"run_id", res.RunID,
			"status", res.Status,
			"error", err,
			"duration", time.Since(start),
		)
		return
	}
	s.logger.Info("scheduled run complete",
		"run_id", res.RunID,
		"status", res.Status,
		"duration", time.Since(start),
	)
}
