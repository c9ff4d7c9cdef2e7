package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/cuemby/ndb/pkg/metrics"
	"github.com/cuemby/ndb/pkg/ndb/notify"
	"github.com/cuemby/ndb/pkg/ndb/queue"
	"github.com/cuemby/ndb/pkg/ndb/registry"
	"github.com/cuemby/ndb/pkg/ndb/source"
	"github.com/cuemby/ndb/pkg/ndb/store"
)

func TestCollectorSamplesRowAndSourceCounts(t *testing.T) {
	metrics.SourcesTotal.Reset()
	metrics.RowsTotal.Reset()

	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	broker := notify.NewBroker()
	broker.Start()
	defer broker.Stop()

	q := queue.New(64)
	go func() {
		for range q.Chan() {
		}
	}()

	reg := registry.New(st, q, broker, zerolog.Nop())
	src, err := reg.Add(registry.Spec{Target: "t1", Kind: source.KindLocal})
	if err != nil {
		t.Fatalf("reg.Add: %v", err)
	}
	select {
	case <-src.Started():
	case <-time.After(registry.StartTimeout + time.Second):
		t.Fatal("source did not start in time")
	}
	defer reg.CloseAll(false)

	st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "t1", Index: 1}, IfName: "lo"})
	st.UpsertAddress(store.AddressRow{Key: store.AddressKey{Target: "t1", Index: 1, Address: "127.0.0.1", PrefixLen: 8, Family: 2}})

	c := metrics.NewCollector(st, reg.SourceStates)
	c.Collect()

	if got := testutil.ToFloat64(metrics.RowsTotal.WithLabelValues("interfaces")); got != 1 {
		t.Errorf("ndb_rows_total{table=interfaces} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RowsTotal.WithLabelValues("addresses")); got != 1 {
		t.Errorf("ndb_rows_total{table=addresses} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RowsTotal.WithLabelValues("routes")); got != 0 {
		t.Errorf("ndb_rows_total{table=routes} = %v, want 0", got)
	}

	if got := testutil.ToFloat64(metrics.SourcesTotal.WithLabelValues(string(source.KindLocal), string(src.State()))); got != 1 {
		t.Errorf("ndb_sources_total{kind=local,status=%s} = %v, want 1", src.State(), got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	broker := notify.NewBroker()
	broker.Start()
	defer broker.Stop()

	reg := registry.New(st, queue.New(8), broker, zerolog.Nop())
	c := metrics.NewCollector(st, reg.SourceStates)

	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
