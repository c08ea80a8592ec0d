package writer

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rickgao/daily-stats/internal/api"
)

// Row is one record keyed by column name.
type Row map[string]any

// WriteOptions controls conflict handling.
type WriteOptions struct {
	Upsert     bool     // replace rows that collide on OnConflict
	OnConflict []string // conflict target columns
}

// Result summarizes one write.
type Result struct {
	Written   int
	Conflicts int // rows skipped because they already existed
}

// Sink writes rows into a named table.
type Sink interface {
	Name() string
	Write(ctx context.Context, table string, rows []Row, opts WriteOptions) (Result, error)
}

// Rejected reports whether the store refused a write for a reason a retry
// will not fix: a bad payload, bad credentials, a missing table or a
// duplicate. Such writes are skipped with a log rather than failing a run.
// A joined error is rejected only when every one of its errors is.
func Rejected(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			errs := joined.Unwrap()
			for _, branch := range errs {
				if !Rejected(branch) {
					return false
				}
			}
			return len(errs) > 0
		}
	}

	switch api.StatusCode(err) {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict:
		return true
	}
	return false
}

// Multi writes to every sink in order. The first sink's result is returned;
// errors from all sinks are joined.
type Multi []Sink

func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (m Multi) Write(ctx context.Context, table string, rows []Row, opts WriteOptions) (Result, error) {
	var (
		first Result
		errs  []error
	)
	for i, s := range m {
		res, err := s.Write(ctx, table, rows, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 {
			first = res
		}
	}
	return first, errors.Join(errs...)
}
