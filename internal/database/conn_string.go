package database

import (
	"net/url"
	"strconv"

	"github.com/rickgao/daily-stats/internal/config"
)

// ApplicationName is reported to the server in pg_stat_activity.
const ApplicationName = "daily-stats"

// BuildConnString builds a PostgreSQL connection URL from config.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	host := cfg.Host
	if cfg.Port != 0 {
		host += ":" + strconv.Itoa(cfg.Port)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     host,
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
