package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/daily-stats/internal/api"
	"github.com/rickgao/daily-stats/internal/config"
	"github.com/rickgao/daily-stats/internal/database"
	"github.com/rickgao/daily-stats/internal/lease"
	"github.com/rickgao/daily-stats/internal/loader"
	"github.com/rickgao/daily-stats/internal/metrics"
	"github.com/rickgao/daily-stats/internal/report"
	"github.com/rickgao/daily-stats/internal/runner"
	"github.com/rickgao/daily-stats/internal/version"
	"github.com/rickgao/daily-stats/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: built-in template from SUPABASE_URL/SUPABASE_KEY)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before config")
	loop := flag.Bool("loop", false, "keep running and retry every schedule.interval")
	flag.Parse()

	os.Exit(run(*configPath, *envFile, *loop))
}

func run(configPath, envFile string, loop bool) int {
	bootLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := config.LoadEnvFile(envFile); err != nil {
		bootLogger.Error("failed to load env file", "error", err)
		return 1
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		return 1
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting daily-stats",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"lease_backend", cfg.Lease.Backend,
		"sink_backend", cfg.Sink.Backend,
		"loop", loop,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		pool, err = database.Connect(ctx, cfg.Database.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return 1
		}
		defer pool.Close()
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	a := &app{cfg: cfg, pool: pool, redis: rdb, logger: logger}
	if pool != nil && cfg.Lease.Backend == config.BackendPostgres {
		if err := lease.NewPostgresStore(pool, cfg.Lease.Table).EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure lease schema", "error", err)
			return 1
		}
	}

	if !loop {
		res, err := a.runOnce(ctx)
		if err != nil {
			logger.Error("run failed", "run_id", res.RunID, "error", err)
			return 1
		}
		return 0
	}

	sched := runner.NewScheduler(runner.SchedulerConfig{Interval: cfg.Schedule.Interval}, a.runOnce, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	// A run holding the lease finishes before we exit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler stop", "error", err)
		return 1
	}

	logger.Info("daily-stats stopped")
	return 0
}

// app holds process-wide connections. Each run gets fresh per-run
// collaborators so caches and metrics never leak between days.
type app struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	redis  *redis.Client
	logger *slog.Logger
}

func (a *app) runOnce(ctx context.Context) (runner.Result, error) {
	rec := metrics.NewRecorder()

	client := api.NewClient(
		a.cfg.API.URL,
		a.cfg.API.Key,
		api.WithLogger(a.logger),
		api.WithTimeout(a.cfg.API.Timeout),
		api.WithRetries(a.cfg.API.MaxRetries, a.cfg.API.BackoffBase),
		api.WithJitter(a.cfg.API.JitterMin, a.cfg.API.JitterMax),
		api.WithMetrics(rec),
	)

	store, err := a.leaseStore(client)
	if err != nil {
		return runner.Result{}, err
	}
	mgr := lease.NewManager(store,
		lease.WithStaleAfter(a.cfg.Lease.StaleAfter),
		lease.WithFallback(lease.NewFallbackFile(a.cfg.Lease.FallbackPath, a.logger)),
		lease.WithLogger(a.logger),
		lease.WithMetrics(rec),
	)

	ld := loader.New(loader.Config{
		Table:       a.cfg.Loader.Table,
		PageSize:    a.cfg.Loader.PageSize,
		Concurrency: a.cfg.Loader.Concurrency,
	}, client, a.logger, rec)

	sink, err := a.sink(client, rec)
	if err != nil {
		return runner.Result{}, err
	}

	jobs := report.Jobs(report.Deps{Source: ld, Sink: sink, Logger: a.logger})

	r := runner.New(runner.Config{
		Instance:       a.cfg.Instance.ID,
		PushgatewayURL: a.cfg.Metrics.PushgatewayURL,
		MetricsJob:     a.cfg.Metrics.Job,
	}, mgr, jobs,
		runner.WithPrefetcher(ld),
		runner.WithMetrics(rec),
		runner.WithLogger(a.logger),
	)
	return r.RunOnce(ctx)
}

func (a *app) leaseStore(client *api.Client) (lease.Store, error) {
	switch a.cfg.Lease.Backend {
	case config.BackendREST:
		return lease.NewRESTStore(client, a.cfg.Lease.Table), nil
	case config.BackendPostgres:
		if a.pool == nil {
			return nil, errors.New("postgres lease backend without a database pool")
		}
		return lease.NewPostgresStore(a.pool, a.cfg.Lease.Table), nil
	case config.BackendRedis:
		if a.redis == nil {
			return nil, errors.New("redis lease backend without a redis client")
		}
		return lease.NewRedisStore(a.redis, a.cfg.Lease.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown lease backend %q", a.cfg.Lease.Backend)
	}
}

func (a *app) sink(client *api.Client, rec *metrics.Recorder) (writer.Sink, error) {
	rest := func() writer.Sink { return writer.NewRESTSink(client, a.logger, rec) }
	pg := func() (writer.Sink, error) {
		if a.pool == nil {
			return nil, errors.New("postgres sink without a database pool")
		}
		return writer.NewPostgresSink(a.pool, a.logger, rec), nil
	}

	switch a.cfg.Sink.Backend {
	case config.BackendREST:
		return rest(), nil
	case config.BackendPostgres:
		return pg()
	case config.BackendBoth:
		p, err := pg()
		if err != nil {
			return nil, err
		}
		return writer.Multi{rest(), p}, nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", a.cfg.Sink.Backend)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
