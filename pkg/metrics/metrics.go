package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Source metrics
	SourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ndb_sources_total",
			Help: "Total number of registered sources by kind and status",
		},
		[]string{"kind", "status"},
	)

	SourceRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndb_source_restarts_total",
			Help: "Total number of source restarts by target and reason",
		},
		[]string{"target", "reason"},
	)

	// Row counts, by table
	RowsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ndb_rows_total",
			Help: "Total number of rows by table",
		},
		[]string{"table"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ndb_queue_depth",
			Help: "Number of batches currently buffered in the event queue",
		},
	)

	EventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndb_events_dispatched_total",
			Help: "Total number of events dispatched by the database manager, by table and action",
		},
		[]string{"table", "action"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndb_events_dropped_total",
			Help: "Total number of events dropped as unrecognized, by family",
		},
		[]string{"family"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ndb_dispatch_duration_seconds",
			Help:    "Time taken to apply one rtnl event to the store, by table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	// Commit (object.Commit) metrics
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndb_commits_total",
			Help: "Total number of commits by table and outcome",
		},
		[]string{"table", "outcome"},
	)

	CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ndb_commit_duration_seconds",
			Help:    "Time from Request to rendezvous match or rollback, by table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndb_rollbacks_total",
			Help: "Total number of rolled-back commits by table",
		},
		[]string{"table"},
	)

	// Schema lock contention
	SchemaLockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ndb_schema_lock_wait_duration_seconds",
			Help:    "Time spent waiting on the per-target schema read/write lock",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(SourcesTotal)
	prometheus.MustRegister(SourceRestartsTotal)
	prometheus.MustRegister(RowsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(EventsDispatchedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(SchemaLockWaitDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
