// Package metrics exposes Prometheus instrumentation for the affiliate
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TouchesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affiliate_touches_recorded_total",
		Help: "Referral touches recorded.",
	})

	Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affiliate_conversions_total",
		Help: "Conversion events processed, by outcome.",
	}, []string{"result"})

	CommissionCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affiliate_commission_cents_total",
		Help: "Commission cents credited.",
	})

	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affiliate_payouts_total",
		Help: "Payout batches, by final status.",
	}, []string{"status"})

	PayoutCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affiliate_payout_net_cents_total",
		Help: "Net cents handed to the payment rail.",
	})

	RetentionScrubbed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affiliate_retention_touches_total",
		Help: "Touches processed by the retention job, by phase.",
	}, []string{"phase"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affiliate_scheduler_job_runs_total",
		Help: "Scheduler job executions, by job and outcome.",
	}, []string{"job", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "affiliate_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request latency per route. Route should be the mux
// template, not the raw path, to keep cardinality bounded.
func Middleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	}
}
