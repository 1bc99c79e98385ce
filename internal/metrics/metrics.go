package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ratetracker"

// Recorder exposes pipeline and HTTP metrics through Prometheus.
type Recorder struct {
	runsTotal     *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	latestRate    prometheus.Gauge
	lastSuccess   prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"result"},
		),
		stageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_failures_total",
				Help:      "Pipeline failures by stage",
			},
			[]string{"stage"},
		),
		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Records handled by the load stage",
			},
			[]string{"outcome"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		latestRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latest_rate_percent",
				Help:      "Most recent rate inserted by the pipeline",
			},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful pipeline run",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method", "class"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// RecordRun records a finished pipeline run. failedStage is empty on success.
func (r *Recorder) RecordRun(failedStage string, took time.Duration) {
	if r == nil {
		return
	}
	r.runDuration.Observe(took.Seconds())
	if failedStage != "" {
		r.runsTotal.WithLabelValues("failure").Inc()
		r.stageFailures.WithLabelValues(failedStage).Inc()
		return
	}
	r.runsTotal.WithLabelValues("success").Inc()
	r.lastSuccess.SetToCurrentTime()
}

// RecordLoad counts inserted and skipped records.
func (r *Recorder) RecordLoad(inserted, skipped int) {
	if r == nil {
		return
	}
	r.recordsTotal.WithLabelValues("inserted").Add(float64(inserted))
	r.recordsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordLatestRate sets the latest-rate gauge.
func (r *Recorder) RecordLatestRate(rate float64) {
	if r == nil {
		return
	}
	r.latestRate.Set(rate)
}

// RecordRequest records one HTTP request.
func (r *Recorder) RecordRequest(route, method string, status int, took time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, statusText(status)).Inc()
	r.httpDuration.WithLabelValues(route, method, statusClass(status)).Observe(took.Seconds())
}

// RecordCacheLookup counts cache hits and misses.
func (r *Recorder) RecordCacheLookup(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	r.cacheLookups.WithLabelValues("miss").Inc()
}

func statusText(code int) string {
	return strconv.Itoa(code)
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
