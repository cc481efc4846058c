package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors of the extraction pipeline and the API.
type Metrics struct {
	CacheLookups        *prometheus.CounterVec
	FetchStages         *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	Extractions         *prometheus.CounterVec
	DealsCreated        *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestLatency  *prometheus.HistogramVec
	HousekeepingRemoved *prometheus.CounterVec
	RelayEvents         *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deal_metadata_cache_lookups_total",
				Help: "Metadata cache lookups by result.",
			},
			[]string{"result"}, // hit, miss
		),
		FetchStages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deal_metadata_fetch_stages_total",
				Help: "Fetch stage outcomes.",
			},
			[]string{"stage", "status"}, // stage: http, browser
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deal_metadata_fetch_duration_seconds",
				Help:    "Duration of fetch stages.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"stage"},
		),
		Extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deal_metadata_extractions_total",
				Help: "Final metadata lookups by outcome.",
			},
			[]string{"outcome"}, // cached, http, browser, failed, error
		),
		DealsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deals_created_total",
				Help: "Deal submissions by result.",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HousekeepingRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deal_housekeeping_items_total",
				Help: "Items touched by housekeeping tasks.",
			},
			[]string{"task"}, // cache_expired, deals_expired, deals_deleted, outbox_purged
		),
		RelayEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deal_relay_events_total",
				Help: "Outbox events relayed to Redis streams by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveStage records the outcome and duration of one fetch stage. Safe on
// a nil receiver so components can run without metrics.
func (m *Metrics) ObserveStage(stage, status string, started time.Time) {
	if m == nil {
		return
	}
	m.FetchStages.WithLabelValues(stage, status).Inc()
	m.FetchDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) Extraction(outcome string) {
	if m == nil {
		return
	}
	m.Extractions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DealCreated(result string) {
	if m == nil {
		return
	}
	m.DealsCreated.WithLabelValues(result).Inc()
}

func (m *Metrics) Housekeeping(task string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.HousekeepingRemoved.WithLabelValues(task).Add(float64(n))
}

func (m *Metrics) RelayEvent(outcome string) {
	if m == nil {
		return
	}
	m.RelayEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(method, path string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.HTTPRequestLatency.WithLabelValues(method, path).Observe(time.Since(started).Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
