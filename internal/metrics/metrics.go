package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "daily_stats"

// Recorder collects the metrics of one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	Requests      *prometheus.CounterVec
	Retries       prometheus.Counter
	RowsIn        prometheus.Counter
	RowsOut       prometheus.Counter
	JobDuration   *prometheus.GaugeVec
	LeaseOutcomes *prometheus.CounterVec

	mu        sync.Mutex
	durations map[string]time.Duration
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "REST requests issued, by method and outcome",
		}, []string{"method", "outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "REST request retries after transient failures",
		}),
		RowsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_in_total",
			Help:      "Event rows read from the log",
		}),
		RowsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_out_total",
			Help:      "Rows written to sinks",
		}),
		JobDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of each job in the last run",
		}, []string{"job"}),
		LeaseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_decisions_total",
			Help:      "Lease acquisition decisions, by outcome and backend",
		}, []string{"outcome", "backend"}),
		durations: make(map[string]time.Duration),
	}

	r.registry.MustRegister(r.Requests, r.Retries, r.RowsIn, r.RowsOut, r.JobDuration, r.LeaseOutcomes)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRequest counts one request attempt.
func (r *Recorder) ObserveRequest(method, outcome string) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(method, outcome).Inc()
}

// ObserveRetry counts one retry.
func (r *Recorder) ObserveRetry() {
	if r == nil {
		return
	}
	r.Retries.Inc()
}

// AddRowsIn adds rows read from the log.
func (r *Recorder) AddRowsIn(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.RowsIn.Add(float64(n))
}

// AddRowsOut adds rows written to a sink.
func (r *Recorder) AddRowsOut(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.RowsOut.Add(float64(n))
}

// ObserveLease counts one lease decision.
func (r *Recorder) ObserveLease(outcome, backend string) {
	if r == nil {
		return
	}
	r.LeaseOutcomes.WithLabelValues(outcome, backend).Inc()
}

// Time starts a timer for a job and returns the function that stops it.
func (r *Recorder) Time(job string) func() {
	if r == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		d := time.Since(start)
		r.JobDuration.WithLabelValues(job).Set(d.Seconds())

		r.mu.Lock()
		r.durations[job] = d
		r.mu.Unlock()
	}
}

// Durations returns a copy of the recorded job durations.
func (r *Recorder) Durations() map[string]time.Duration {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]time.Duration, len(r.durations))
	for k, v := range r.durations {
		out[k] = v
	}
	return out
}

// Push sends the registry to a Pushgateway under the given job name,
// grouped by instance.
func (r *Recorder) Push(ctx context.Context, url, job, instance string) error {
	if r == nil || url == "" {
		return nil
	}
	pusher := push.New(url, job).
		Gatherer(r.registry).
		Grouping("instance", instance)

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
