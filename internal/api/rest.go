package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const restPrefix = "/rest/v1/"

// InsertOptions controls POST semantics.
type InsertOptions struct {
	Upsert     bool   // merge duplicates instead of failing with 409
	OnConflict string // comma separated conflict target for upserts
}

// Select reads rows from a table into out.
func (c *Client) Select(ctx context.Context, table string, query url.Values, out any) error {
	resp, err := c.Send(ctx, http.MethodGet, restPrefix+table, RequestOptions{Query: query})
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	return resp.Decode(out)
}

// Insert writes one row or a slice of rows. Without Upsert a duplicate key
// fails with *ConflictError.
func (c *Client) Insert(ctx context.Context, table string, payload any, opts InsertOptions) error {
	header := http.Header{}
	var query url.Values

	if opts.Upsert {
		header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
		if opts.OnConflict != "" {
			query = url.Values{"on_conflict": {opts.OnConflict}}
		}
	} else {
		header.Set("Prefer", "return=minimal")
	}

	_, err := c.Send(ctx, http.MethodPost, restPrefix+table, RequestOptions{
		Query:  query,
		Header: header,
		Body:   payload,
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// Update patches the rows matched by filter. When out is non-nil the
// updated rows are returned and decoded into it.
func (c *Client) Update(ctx context.Context, table string, filter url.Values, payload any, out any) error {
	header := http.Header{}
	if out != nil {
		header.Set("Prefer", "return=representation")
	} else {
		header.Set("Prefer", "return=minimal")
	}

	resp, err := c.Send(ctx, http.MethodPatch, restPrefix+table, RequestOptions{
		Query:  filter,
		Header: header,
		Body:   payload,
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return resp.Decode(out)
}

// PostgREST filter operators.

func Eq(v string) string  { return "eq." + v }
func Gte(v string) string { return "gte." + v }
func Lte(v string) string { return "lte." + v }
func Lt(v string) string  { return "lt." + v }
