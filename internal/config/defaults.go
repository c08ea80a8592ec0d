package config

import (
	"os"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultAPITimeout       = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = 250 * time.Millisecond
	DefaultJitterMin        = 50 * time.Millisecond
	DefaultJitterMax        = 200 * time.Millisecond
	DefaultLogTable         = "logs"
	DefaultPageSize         = 1000
	DefaultLoaderParallel   = 4
	DefaultLeaseBackend     = BackendREST
	DefaultLeaseTable       = "daily_job_runs"
	DefaultStaleAfter       = 180 * time.Minute
	DefaultFallbackPath     = ".daily_job_lock.json"
	DefaultRedisPrefix      = "daily_job_runs:"
	DefaultSinkBackend      = BackendREST
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 0
	DefaultRedisAddr        = "localhost:6379"
	DefaultScheduleInterval = time.Hour
	DefaultMetricsJob       = "daily_stats"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *Config) applyDefaults() {
	// Instance defaults
	if c.Instance.ID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Instance.ID = host
		}
	}

	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.BackoffBase == 0 {
		c.API.BackoffBase = DefaultBackoffBase
	}
	if c.API.JitterMin == 0 && c.API.JitterMax == 0 {
		c.API.JitterMin = DefaultJitterMin
		c.API.JitterMax = DefaultJitterMax
	}

	// Loader defaults
	if c.Loader.Table == "" {
		c.Loader.Table = DefaultLogTable
	}
	if c.Loader.PageSize == 0 {
		c.Loader.PageSize = DefaultPageSize
	}
	if c.Loader.Concurrency == 0 {
		c.Loader.Concurrency = DefaultLoaderParallel
	}

	// Lease defaults
	if c.Lease.Backend == "" {
		c.Lease.Backend = DefaultLeaseBackend
	}
	if c.Lease.Table == "" {
		c.Lease.Table = DefaultLeaseTable
	}
	if c.Lease.StaleAfter == 0 {
		c.Lease.StaleAfter = DefaultStaleAfter
	}
	if c.Lease.FallbackPath == "" {
		c.Lease.FallbackPath = DefaultFallbackPath
	}
	if c.Lease.RedisPrefix == "" {
		c.Lease.RedisPrefix = DefaultRedisPrefix
	}

	// Sink defaults
	if c.Sink.Backend == "" {
		c.Sink.Backend = DefaultSinkBackend
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	// Schedule defaults
	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = DefaultScheduleInterval
	}

	// Metrics defaults
	if c.Metrics.Job == "" {
		c.Metrics.Job = DefaultMetricsJob
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
