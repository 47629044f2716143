package services

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics holds the Prometheus collectors for the sync pipeline. A nil
// *SyncMetrics records nothing.
type SyncMetrics struct {
	runs         *prometheus.CounterVec
	orders       *prometheus.CounterVec
	duration     prometheus.Histogram
	apiRequests  *prometheus.CounterVec
	tokenFetches prometheus.Counter
	rateLimited  prometheus.Counter
}

// NewSyncMetrics creates the collectors and registers them on reg.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_sync_runs_total",
				Help: "Total number of POS sync runs by result",
			},
			[]string{"result"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_sync_orders_total",
				Help: "Total number of POS orders processed by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pos_sync_duration_seconds",
				Help:    "Duration of POS sync runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pos_api_requests_total",
				Help: "Total number of requests sent to the POS API",
			},
			[]string{"endpoint", "status"},
		),
		tokenFetches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pos_token_fetches_total",
				Help: "Total number of POS access tokens issued",
			},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pos_sync_rate_limited_total",
				Help: "Total number of sync runs rejected with HTTP 429",
			},
		),
	}

	reg.MustRegister(m.runs, m.orders, m.duration, m.apiRequests, m.tokenFetches, m.rateLimited)
	return m
}

func (m *SyncMetrics) runFinished(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *SyncMetrics) orderOutcome(outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome).Inc()
}

func (m *SyncMetrics) apiRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.apiRequests.WithLabelValues(endpoint, label).Inc()
}

func (m *SyncMetrics) tokenFetched() {
	if m == nil {
		return
	}
	m.tokenFetches.Inc()
}

func (m *SyncMetrics) rateLimitHit() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
