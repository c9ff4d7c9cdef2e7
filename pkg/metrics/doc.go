/*
Package metrics provides Prometheus metrics collection and exposition for ndb.

The metrics package defines and registers all ndb metrics using the Prometheus
client library, providing observability into source connectivity, queue
depth, dispatch throughput, commit latency, and row counts per table. Metrics
are exposed via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (row count, depth)   │          │
	│  │  Counter: Monotonic increases (dispatches)  │          │
	│  │  Histogram: Distributions (commit latency)  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Sources: count by kind/status, restarts    │          │
	│  │  Rows: count by table                       │          │
	│  │  Queue: depth, dispatch count/latency       │          │
	│  │  Commit: count/latency/rollback by table    │          │
	│  │  Schema lock: read/write gate wait time      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: sources total, rows total, queue depth
  - Updated periodically by Collector, not on the dispatch hot path

Counter Metrics:
  - Monotonically increasing value
  - Examples: events dispatched, commits, rollbacks
  - Updated inline by pkg/ndb/dbm and pkg/ndb/object

Histogram Metrics:
  - Distribution of observed values
  - Examples: dispatch duration, commit duration, schema lock wait
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Collector:
  - Polls the store and registry every 15s
  - Publishes ndb_sources_total and ndb_rows_total gauges

# Metrics Catalog

ndb_sources_total{kind, status}:
  - Type: Gauge
  - Description: Total sources by kind (local/netns/remote) and FSM state
  - Example: ndb_sources_total{kind="remote",status="running"} 3

ndb_source_restarts_total{target, reason}:
  - Type: Counter
  - Description: Total source restarts by target and reason

ndb_rows_total{table}:
  - Type: Gauge
  - Description: Total rows by table (interfaces/addresses/routes/neighbours/rules)

ndb_queue_depth:
  - Type: Gauge
  - Description: Batches currently buffered in the event queue

ndb_events_dispatched_total{table, action}:
  - Type: Counter
  - Description: Events applied to the store by the database manager

ndb_events_dropped_total{family}:
  - Type: Counter
  - Description: Unrecognized events dropped before dispatch

ndb_dispatch_duration_seconds{table}:
  - Type: Histogram
  - Description: Time to apply one rtnl event to the store

ndb_commits_total{table, outcome}:
  - Type: Counter
  - Description: Commits by table and outcome (applied/snapshot_error/request_error/timeout)

ndb_commit_duration_seconds{table}:
  - Type: Histogram
  - Description: Time from Request to rendezvous match or rollback

ndb_rollbacks_total{table}:
  - Type: Counter
  - Description: Rolled-back commits by table

ndb_schema_lock_wait_duration_seconds:
  - Type: Histogram
  - Description: Time spent waiting on the per-target schema read/write lock

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/ndb/pkg/metrics"

	metrics.RowsTotal.WithLabelValues("routes").Set(42)
	metrics.QueueDepth.Set(3)

Updating Counter Metrics:

	metrics.EventsDispatchedTotal.WithLabelValues("routes", "new").Inc()
	metrics.CommitsTotal.WithLabelValues("addresses", "applied").Inc()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... dispatch one event ...
	timer.ObserveDurationVec(metrics.DispatchDuration, "routes")

Complete Example:

	package main

	import (
		"net/http"
		"github.com/cuemby/ndb/pkg/metrics"
	)

	func main() {
		collector := metrics.NewCollector(st, reg.SourceStates)
		collector.Start()
		defer collector.Stop()

		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9100", nil)
	}

# Integration Points

This package integrates with:

  - pkg/ndb/dbm: Increments dispatch/drop counters, observes dispatch latency
  - pkg/ndb/object: Increments commit/rollback counters
  - pkg/ndb/registry: Collector reads source kind/state for the gauges
  - pkg/ndb/store: Collector reads row counts per table
  - Prometheus: Scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels (table, kind, status)
  - Avoid high-cardinality labels (targets, keys, timestamps)

Timer Pattern:
  - Create timer at operation start
  - Call ObserveDuration/ObserveDurationVec once the operation completes

# Monitoring

Prometheus Queries (PromQL):

Source Health:
  - Failed sources: ndb_sources_total{status="failed"}
  - Restart rate: rate(ndb_source_restarts_total[5m])

Queue/Dispatch:
  - Dispatch rate: rate(ndb_events_dispatched_total[1m])
  - p95 dispatch latency: histogram_quantile(0.95, ndb_dispatch_duration_seconds_bucket)
  - Dropped event rate: rate(ndb_events_dropped_total[5m])

Commit Health:
  - Rollback rate: rate(ndb_rollbacks_total[5m])
  - p99 commit latency: histogram_quantile(0.99, ndb_commit_duration_seconds_bucket)

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
