package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rickgao/daily-stats/internal/version"
)

// RequestOptions carries the optional parts of a request.
type RequestOptions struct {
	Query  url.Values
	Header http.Header
	Body   any // JSON-encoded when non-nil
}

// Response is a fully read HTTP response with a status below 400.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into out. A nil out is a no-op.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Send performs a request with bounded retries.
//
// Network failures and 429/500/502/503/504 are retried up to maxRetries times,
// sleeping backoffBase*2^attempt plus jitter between attempts. When the
// default client fails to connect through its proxy, one direct attempt is
// made within the same iteration. 409 returns *ConflictError, other 4xx
// return *PermanentError immediately.
func (c *Client) Send(ctx context.Context, method, path string, opts RequestOptions) (*Response, error) {
	var payload []byte
	if opts.Body != nil {
		var err error
		payload, err = json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(opts.Query) > 0 {
		fullURL += "?" + opts.Query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		bypassed := false
		resp, err := c.doRequest(ctx, c.httpClient, method, fullURL, opts.Header, payload)
		if err != nil && isProxyError(err) {
			bypassed = true
			c.logger.Warn("proxy connection failed, trying direct request",
				"method", method,
				"path", path,
				"attempt", attempt,
				"error", err,
			)
			resp, err = c.doRequest(ctx, c.directClient, method, fullURL, opts.Header, payload)
		}

		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.metrics.ObserveRequest(method, "network_error")
			lastErr = &TransientError{Method: method, URL: path, Err: err}
		case isRetryableStatus(resp.StatusCode):
			c.metrics.ObserveRequest(method, "transient")
			lastErr = &TransientError{Method: method, URL: path, StatusCode: resp.StatusCode, Body: resp.Body}
		default:
			return c.classify(method, resp)
		}

		if attempt >= c.maxRetries {
			break
		}

		wait := c.backoff(attempt)
		c.logger.Debug("retrying request",
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"backoff", wait,
			"bypassed_proxy", bypassed,
			"error", lastErr,
		)
		c.metrics.ObserveRetry()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrRetryInvariant
}

// doRequest performs a single HTTP round trip and reads the body.
func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, fullURL string, header http.Header, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, vs := range header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// classify maps a non-retryable response to a result.
func (c *Client) classify(method string, resp *Response) (*Response, error) {
	switch {
	case resp.StatusCode < 400:
		c.metrics.ObserveRequest(method, "ok")
		return resp, nil
	case resp.StatusCode == http.StatusConflict:
		c.metrics.ObserveRequest(method, "conflict")
		return nil, &ConflictError{Body: resp.Body}
	default:
		c.metrics.ObserveRequest(method, "permanent")
		return nil, &PermanentError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       resp.Body,
		}
	}
}

// backoff returns backoffBase*2^attempt plus uniform jitter in [jitterMin, jitterMax).
func (c *Client) backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := c.backoffBase * time.Duration(1<<attempt)

	jitter := c.jitterMin
	if span := c.jitterMax - c.jitterMin; span > 0 {
		jitter += time.Duration(rand.Int64N(int64(span)))
	}
	return d + jitter
}

// isProxyError reports whether err came from connecting to an HTTP proxy.
func isProxyError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
		return true
	}
	return strings.Contains(err.Error(), "proxyconnect")
}
