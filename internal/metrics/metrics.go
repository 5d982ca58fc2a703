package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes recorded per adapter call.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomePanic = "panic"
)

var (
	AdapterFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ip_adapter_fetches_total",
			Help: "Adapter fetch calls by outcome",
		},
		[]string{"source", "outcome"},
	)

	AdapterRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ip_adapter_records_total",
			Help: "Records returned by adapters before deduplication",
		},
		[]string{"source"},
	)

	AdapterFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ip_adapter_fetch_duration_seconds",
			Help:    "Time spent in adapter fetch calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	DuplicatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ip_duplicates_dropped_total",
			Help: "Records dropped because an earlier adapter reported the same indicator",
		},
		[]string{"source"},
	)

	Discarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ip_records_discarded_total",
			Help: "Records discarded for lacking an indicator value",
		},
		[]string{"source"},
	)

	CollectedIndicators = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ip_collected_indicators",
			Help: "Unique indicators produced by the last collection cycle",
		},
	)

	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ip_pipeline_runs_total",
			Help: "Pipeline runs by result",
		},
		[]string{"result"},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ip_sink_errors_total",
			Help: "Errors writing to report sinks",
		},
		[]string{"sink"},
	)
)

var FeedErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ip_feed_errors_total",
		Help: "Feed request failures by reason",
	},
	[]string{"source", "reason"},
)

var StageDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ip_stage_duration_seconds",
		Help:    "Time spent in each analysis stage",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"},
)

var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ip_http_requests_total",
		Help: "HTTP requests by route and status code",
	},
	[]string{"route", "code"},
)
