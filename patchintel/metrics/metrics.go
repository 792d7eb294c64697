package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for RecordsIngested.
const (
	OutcomeInserted = "inserted"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

var RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "patchintel_records_ingested_total",
	Help: "Raw patch records processed by ingestion, by outcome",
}, []string{"outcome"})

var IngestRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "patchintel_ingest_run_duration_seconds",
	Help:    "Duration of ingestion runs in seconds",
	Buckets: prometheus.DefBuckets,
})

var FeedFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "patchintel_feed_fetch_duration_seconds",
	Help:    "Duration of upstream feed fetches in seconds, retries included",
	Buckets: prometheus.DefBuckets,
})

var FeedFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "patchintel_feed_fetch_failures_total",
	Help: "Feed fetches that ended in a failure after retries",
})

var ScrapeFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "patchintel_scrape_failures_total",
	Help: "Advisory page scrapes that produced no fields because of an error",
})

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "patchintel_http_requests_total",
	Help: "Requests served by the query API, by route and status code",
}, []string{"route", "code"})
