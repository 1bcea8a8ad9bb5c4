// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	solveAttemptsTotal        *prometheus.CounterVec
	recognizerDurationSeconds *prometheus.HistogramVec
	runsTotal                 *prometheus.CounterVec
	pagesFetchedTotal         prometheus.Counter
	payloadBytesTotal         prometheus.Counter
	backoffDelaysSeconds      prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		solveAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salecrawler_solve_attempts_total",
				Help: "Total CAPTCHA solve attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recognizerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salecrawler_recognizer_duration_seconds",
				Help:    "Histogram of recognizer strategy latencies, labeled by strategy and result.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"strategy", "result"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salecrawler_runs_total",
				Help: "Total number of scrape runs processed, labeled by status.",
			},
			[]string{"status"},
		)

		pagesFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "salecrawler_pages_fetched_total",
				Help: "Total number of result pages fetched from the site.",
			},
		)

		payloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "salecrawler_payload_bytes_total",
				Help: "Total bytes of raw result payloads persisted.",
			},
		)

		backoffDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "salecrawler_backoff_delays_seconds",
				Help:    "Histogram of inter-attempt backoff wait durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSolveAttempt counts one solve attempt with its outcome
// (accepted, rejected, no_candidate).
func ObserveSolveAttempt(outcome string) {
	if solveAttemptsTotal == nil {
		return
	}
	solveAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecognizer records one recognizer strategy call.
func ObserveRecognizer(strategy, result string, elapsed time.Duration) {
	if recognizerDurationSeconds == nil {
		return
	}
	recognizerDurationSeconds.WithLabelValues(strategy, result).Observe(elapsed.Seconds())
}

// ObserveRun counts a completed run by final status.
func ObserveRun(status string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(status).Inc()
}

// ObservePageFetch counts one result page fetch and its size.
func ObservePageFetch(bytesFetched int) {
	if pagesFetchedTotal == nil {
		return
	}
	pagesFetchedTotal.Inc()
	payloadBytesTotal.Add(float64(bytesFetched))
}

// ObserveBackoff records a backoff wait duration.
func ObserveBackoff(delay time.Duration) {
	if backoffDelaysSeconds == nil {
		return
	}
	backoffDelaysSeconds.Observe(delay.Seconds())
}
