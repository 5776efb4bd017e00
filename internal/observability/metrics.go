package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the request counters.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeInvalid     = "invalid"
)

var (
	diffRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolsync",
		Subsystem: "assets",
		Name:      "diff_requests_total",
		Help:      "Manifest diff requests by outcome.",
	}, []string{"outcome"})
	signFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolsync",
		Subsystem: "assets",
		Name:      "sign_failures_total",
		Help:      "Download URLs that could not be minted and were left out of a result.",
	})
	ingestRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolsync",
		Subsystem: "ingest",
		Name:      "rejected_requests_total",
		Help:      "Ingest requests rejected before or during persistence, by outcome.",
	}, []string{"outcome"})
	ingestItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolsync",
		Subsystem: "ingest",
		Name:      "items_total",
		Help:      "Accepted submissions by how they landed (inserted, updated, unchanged).",
	}, []string{"result"})
	reportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "schoolsync",
		Subsystem: "report",
		Name:      "aggregate_duration_seconds",
		Help:      "Time spent building a class report.",
		Buckets:   prometheus.DefBuckets,
	})
	submissionPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "schoolsync",
		Subsystem: "persistence",
		Name:      "last_submission_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent submission batch committed to Postgres.",
	})
)

func init() {
	prometheus.MustRegister(diffRequests, signFailures, ingestRejected, ingestItems, reportDuration, submissionPersistGauge)
}

// RecordDiff counts a manifest diff request.
func RecordDiff(outcome string) {
	diffRequests.WithLabelValues(outcome).Inc()
}

// RecordSignFailure counts an object dropped because its URL could not be minted.
func RecordSignFailure() {
	signFailures.Inc()
}

// RecordIngestRejected counts a rejected ingest request.
func RecordIngestRejected(outcome string) {
	ingestRejected.WithLabelValues(outcome).Inc()
}

// RecordIngestAccepted counts the items of an accepted ingest request.
func RecordIngestAccepted(inserted, updated, unchanged int) {
	ingestItems.WithLabelValues("inserted").Add(float64(inserted))
	ingestItems.WithLabelValues("updated").Add(float64(updated))
	ingestItems.WithLabelValues("unchanged").Add(float64(unchanged))
}

// ObserveReport records how long a report took to build.
func ObserveReport(d time.Duration) {
	reportDuration.Observe(d.Seconds())
}

// RecordSubmissionsPersisted updates the persistence watermark gauge.
func RecordSubmissionsPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	submissionPersistGauge.Set(float64(ts.Unix()))
}
