package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.URL == "" {
		return errors.New("api.url is required")
	}
	if u, err := url.Parse(c.API.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.url must be an absolute URL, got %q", c.API.URL)
	}
	if c.API.Key == "" {
		return errors.New("api.key is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.JitterMax < c.API.JitterMin {
		return fmt.Errorf("api.jitter_max (%s) cannot be below jitter_min (%s)", c.API.JitterMax, c.API.JitterMin)
	}

	if c.Loader.PageSize < 1 {
		return errors.New("loader.page_size must be >= 1")
	}
	if c.Loader.Concurrency < 1 {
		return errors.New("loader.concurrency must be >= 1")
	}

	switch c.Lease.Backend {
	case BackendREST, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("lease.backend must be rest, postgres or redis, got %q", c.Lease.Backend)
	}
	if c.Lease.StaleAfter <= 0 {
		return errors.New("lease.stale_after must be positive")
	}

	switch c.Sink.Backend {
	case BackendREST, BackendPostgres, BackendBoth:
	default:
		return fmt.Errorf("sink.backend must be rest, postgres or both, got %q", c.Sink.Backend)
	}

	if c.UsesPostgres() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Schedule.Interval <= 0 {
		return errors.New("schedule.interval must be positive")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
