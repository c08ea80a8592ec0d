package config

import "time"

// Config is the root configuration.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Loader   LoaderConfig   `yaml:"loader"`
	Lease    LeaseConfig    `yaml:"lease"`
	Sink     SinkConfig     `yaml:"sink"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"` // defaults to the hostname
}

// APIConfig holds the remote store settings.
type APIConfig struct {
	URL         string        `yaml:"url"` // PostgREST base URL, without /rest/v1
	Key         string        `yaml:"key"` // sent as apikey and bearer token
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	JitterMin   time.Duration `yaml:"jitter_min"`
	JitterMax   time.Duration `yaml:"jitter_max"`
}

// LoaderConfig holds event loader settings.
type LoaderConfig struct {
	Table       string `yaml:"table"`
	PageSize    int    `yaml:"page_size"`
	Concurrency int    `yaml:"concurrency"` // parallel event types during prefetch
}

// Lease backends.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBoth     = "both" // sink only: rest and postgres
)

// LeaseConfig holds daily lease settings.
type LeaseConfig struct {
	Backend      string        `yaml:"backend"` // rest, postgres or redis
	Table        string        `yaml:"table"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	FallbackPath string        `yaml:"fallback_path"`
	RedisPrefix  string        `yaml:"redis_prefix"`
}

// SinkConfig selects where report rows go.
type SinkConfig struct {
	Backend string `yaml:"backend"` // rest, postgres or both
}

// DatabaseConfig holds the optional Postgres connection.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the optional Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ScheduleConfig holds loop mode settings.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig holds Pushgateway settings.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"` // empty disables pushing
	Job            string `yaml:"job"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// UsesPostgres reports whether any component needs the Postgres pool.
func (c *Config) UsesPostgres() bool {
	return c.Lease.Backend == BackendPostgres ||
		c.Sink.Backend == BackendPostgres ||
		c.Sink.Backend == BackendBoth
}

// UsesRedis reports whether any component needs Redis.
func (c *Config) UsesRedis() bool {
	return c.Lease.Backend == BackendRedis
}
