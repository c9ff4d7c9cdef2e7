package registry

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ndb/pkg/ndb/notify"
	"github.com/cuemby/ndb/pkg/ndb/queue"
	"github.com/cuemby/ndb/pkg/ndb/source"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	st, err := store.New("")
	require.NoError(t, err)

	broker := notify.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	q := queue.New(64)
	// drain the queue so a Source's bulk-dump events don't block its
	// reader goroutine; nothing in these tests inspects dispatched rows.
	go func() {
		for range q.Chan() {
		}
	}()

	return New(st, q, broker, zerolog.Nop()), st
}

func waitStarted(t *testing.T, src *source.Source) {
	t.Helper()
	select {
	case <-src.Started():
	case <-time.After(StartTimeout + time.Second):
		t.Fatal("source did not signal ready in time")
	}
}

func TestAddPersistsAndStartsSource(t *testing.T) {
	reg, st := newTestRegistry(t)

	src, err := reg.Add(Spec{Target: "host-a", Kind: source.KindLocal})
	require.NoError(t, err)
	waitStarted(t, src)
	defer reg.CloseAll(false)

	got, ok := reg.Get("host-a")
	require.True(t, ok)
	assert.Same(t, src, got)

	rows := st.ListSources()
	require.Len(t, rows, 1)
	assert.Equal(t, "host-a", rows[0].Target)
	assert.Equal(t, string(source.KindLocal), rows[0].Kind)
}

func TestAddDuplicateTargetFails(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Add(Spec{Target: "host-a", Kind: source.KindLocal})
	require.NoError(t, err)
	defer reg.CloseAll(false)

	_, err = reg.Add(Spec{Target: "host-a", Kind: source.KindLocal})
	assert.Error(t, err)
}

func TestAddAppliesHostnameShorthand(t *testing.T) {
	spec := Spec{Hostname: "box1.example.com"}.defaults()
	assert.Equal(t, source.KindRemote, spec.Kind)
	assert.Equal(t, "box1.example.com", spec.Target)
}

func TestAddRejectsEmptyTarget(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Add(Spec{})
	assert.Error(t, err)
}

func TestRemoveDeletesPersistedRow(t *testing.T) {
	reg, st := newTestRegistry(t)

	_, err := reg.Add(Spec{Target: "host-a", Kind: source.KindLocal})
	require.NoError(t, err)

	require.NoError(t, reg.Remove("host-a", false))

	_, ok := reg.Get("host-a")
	assert.False(t, ok)
	assert.Empty(t, st.ListSources())
}

func TestRemoveUnknownTargetFails(t *testing.T) {
	reg, _ := newTestRegistry(t)
	assert.Error(t, reg.Remove("nope", false))
}

func TestMultiSourceFlushIsIndependentPerTarget(t *testing.T) {
	reg, st := newTestRegistry(t)

	srcA, err := reg.Add(Spec{Target: "s1", Kind: source.KindLocal})
	require.NoError(t, err)
	waitStarted(t, srcA)

	srcB, err := reg.Add(Spec{Target: "s2", Kind: source.KindLocal})
	require.NoError(t, err)
	waitStarted(t, srcB)
	defer reg.CloseAll(false)

	st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "s1", Index: 1}, IfName: "lo"})
	st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "s2", Index: 1}, IfName: "lo"})

	require.NoError(t, reg.Remove("s1", true))

	assert.Empty(t, st.ListInterfaces("s1", nil))
	assert.Len(t, st.ListInterfaces("s2", nil), 1)
}

func TestTargetsListsEveryRegisteredSource(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Add(Spec{Target: "s1", Kind: source.KindLocal})
	require.NoError(t, err)
	_, err = reg.Add(Spec{Target: "s2", Kind: source.KindLocal})
	require.NoError(t, err)
	defer reg.CloseAll(false)

	assert.ElementsMatch(t, []string{"s1", "s2"}, reg.Targets())
}

func TestRestoreRestartsPersistedSources(t *testing.T) {
	reg, st := newTestRegistry(t)

	src, err := reg.Add(Spec{Target: "host-a", Kind: source.KindLocal, Persistent: true})
	require.NoError(t, err)
	waitStarted(t, src)
	require.NoError(t, reg.CloseAll(false))

	// A fresh Registry over the same store stands in for a daemon
	// restart: Restore must bring "host-a" back from its persisted row.
	q := queue.New(64)
	go func() {
		for range q.Chan() {
		}
	}()
	restored := New(st, q, notifyBroker(t), zerolog.Nop())
	defer restored.CloseAll(false)
	require.NoError(t, restored.Restore())

	got, ok := restored.Get("host-a")
	require.True(t, ok)
	waitStarted(t, got)
}

func notifyBroker(t *testing.T) *notify.Broker {
	t.Helper()
	b := notify.NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestAddAndRemovePublishSourcesChanges(t *testing.T) {
	reg, _ := newTestRegistry(t)

	sub := reg.Broker().Subscribe()
	defer reg.Broker().Unsubscribe(sub)

	waitChange := func(kind notify.Kind) {
		t.Helper()
		for {
			select {
			case c := <-sub:
				if c.Table == "sources" && c.Key == "host-a" && c.Kind == kind {
					return
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("no sources %s change published", kind)
			}
		}
	}

	_, err := reg.Add(Spec{Target: "host-a", Kind: source.KindLocal})
	require.NoError(t, err)
	waitChange(notify.Upserted)

	require.NoError(t, reg.Remove("host-a", false))
	waitChange(notify.Deleted)
}

func TestRequestUnknownTargetFails(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.Request("nope", rtnl.Request{Family: rtnl.FamilyLink, Action: rtnl.ActionSet})
	assert.Error(t, err)
}
