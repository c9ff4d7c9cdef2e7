package metrics

import (
	"time"

	"github.com/cuemby/ndb/pkg/ndb/store"
)

// SourceState is one live source's kind and FSM state, sampled by the
// collector without reaching into the registry's internals (the registry
// imports this package for its own counters, so the dependency cannot run
// the other way).
type SourceState struct {
	Kind  string
	State string
}

// Collector periodically samples the store and the source fleet and
// publishes row and source counts as gauges, since neither updates a
// Prometheus metric itself on every mutation (the dispatch path stays on
// the single-writer hot path; counting is left to this poller).
type Collector struct {
	st      store.Store
	sources func() []SourceState
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector. sources is typically
// registry.SourceStates.
func NewCollector(st store.Store, sources func() []SourceState) *Collector {
	return &Collector{
		st:      st,
		sources: sources,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectSourceMetrics()
	c.collectRowMetrics()
}

func (c *Collector) collectSourceMetrics() {
	sourceCounts := make(map[SourceState]int)
	for _, s := range c.sources() {
		sourceCounts[s]++
	}
	for s, count := range sourceCounts {
		SourcesTotal.WithLabelValues(s.Kind, s.State).Set(float64(count))
	}
}

func (c *Collector) collectRowMetrics() {
	// An empty target means every target in the store's list methods.
	RowsTotal.WithLabelValues("interfaces").Set(float64(c.st.CountInterfaces("")))
	RowsTotal.WithLabelValues("addresses").Set(float64(len(c.st.ListAddresses("", nil))))
	RowsTotal.WithLabelValues("routes").Set(float64(len(c.st.ListRoutes("", nil))))
	RowsTotal.WithLabelValues("neighbours").Set(float64(len(c.st.ListNeighbours("", nil))))
	RowsTotal.WithLabelValues("rules").Set(float64(len(c.st.ListRules("", nil))))
}
