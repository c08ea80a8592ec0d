package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/daily-stats/internal/metrics"
)

// Default transport settings.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 250 * time.Millisecond
	DefaultJitterMin   = 50 * time.Millisecond
	DefaultJitterMax   = 200 * time.Millisecond
)

// Client provides access to the PostgREST API of the remote store.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	directClient *http.Client // proxying disabled, used once per iteration on proxy failures
	logger       *slog.Logger
	metrics      *metrics.Recorder

	maxRetries  int
	backoffBase time.Duration
	jitterMin   time.Duration
	jitterMax   time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		directClient: newDirectClient(DefaultTimeout),
		logger:       slog.Default(),
		maxRetries:   DefaultMaxRetries,
		backoffBase:  DefaultBackoffBase,
		jitterMin:    DefaultJitterMin,
		jitterMax:    DefaultJitterMax,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// newDirectClient returns a client that ignores HTTP_PROXY/HTTPS_PROXY.
func newDirectClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	return &http.Client{Timeout: timeout, Transport: tr}
}

// WithTimeout sets the per-request timeout of both the default and the direct client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
		c.directClient.Timeout = d
	}
}

// WithRetries sets the retry count and the backoff base.
func WithRetries(max int, base time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.backoffBase = base
	}
}

// WithJitter sets the uniform jitter range added to every backoff sleep.
func WithJitter(min, max time.Duration) ClientOption {
	return func(c *Client) {
		c.jitterMin = min
		c.jitterMax = max
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithDirectClient sets the client used for proxy bypass attempts.
func WithDirectClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.directClient = hc
	}
}

// WithMetrics records request and retry counts.
func WithMetrics(m *metrics.Recorder) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}
