package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ndb/pkg/ndb/store"
)

func TestUpsertGetDeleteInterface(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	defer st.Close()

	key := store.InterfaceKey{Target: "t1", Index: 1}
	st.UpsertInterface(store.InterfaceRow{Key: key, IfName: "lo"})

	row, ok := st.GetInterface(key)
	require.True(t, ok)
	assert.Equal(t, "lo", row.IfName)

	byName, ok := st.GetInterfaceByName("t1", "lo")
	require.True(t, ok)
	assert.Equal(t, key, byName.Key)

	assert.Equal(t, 1, st.CountInterfaces("t1"))

	deleted, ok := st.DeleteInterface(key)
	require.True(t, ok)
	assert.Equal(t, "lo", deleted.IfName)

	_, ok = st.GetInterface(key)
	assert.False(t, ok)
}

func TestListInterfacesAppliesFilter(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	defer st.Close()

	st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "t1", Index: 1}, IfName: "lo"})
	st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "t1", Index: 2}, IfName: "eth0"})

	rows := st.ListInterfaces("t1", func(r store.InterfaceRow) bool { return r.IfName == "eth0" })
	require.Len(t, rows, 1)
	assert.Equal(t, "eth0", rows[0].IfName)
}

func TestFlushRemovesEveryTableForTarget(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	defer st.Close()

	st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "t1", Index: 1}, IfName: "lo"})
	st.UpsertAddress(store.AddressRow{Key: store.AddressKey{Target: "t1", Index: 1, Address: "10.0.0.1", PrefixLen: 24, Family: 2}})
	st.UpsertRoute(store.RouteRow{Key: store.RouteKey{Target: "t1", Family: 2, DstLen: 0, Table: 254}})

	st.UpsertSource(store.SourceRow{Target: "t1", Kind: "local"})

	st.Flush("t1")

	assert.Empty(t, st.ListInterfaces("t1", nil))
	assert.Empty(t, st.ListAddresses("t1", nil))
	assert.Empty(t, st.ListRoutes("t1", nil))

	// Flush never touches the sources row itself.
	_, ok := st.GetSource("t1")
	assert.True(t, ok)
}

func TestEmptyTargetListsEveryTarget(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	defer st.Close()

	st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "t1", Index: 1}, IfName: "lo"})
	st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "t2", Index: 1}, IfName: "lo"})

	assert.Len(t, st.ListInterfaces("", nil), 2)
	assert.Equal(t, 2, st.CountInterfaces(""))
	assert.Len(t, st.ListInterfaces("t1", nil), 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	defer st.Close()

	st.PutSnapshot("ctx1", "interfaces", store.InterfaceRow{Key: store.InterfaceKey{Target: "t1", Index: 1}, IfName: "lo"})
	st.PutSnapshot("ctx1", "addresses", store.AddressRow{Key: store.AddressKey{Target: "t1", Index: 1, Address: "10.0.0.1"}})

	rows := st.GetSnapshots("ctx1")
	require.Len(t, rows, 2)

	st.DeleteSnapshots("ctx1")
	assert.Empty(t, st.GetSnapshots("ctx1"))
}

func TestAllowReadGatesWaitRead(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	defer st.Close()

	st.AllowRead("t1", false)

	unblocked := make(chan struct{})
	go func() {
		st.WaitRead("t1")
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("WaitRead returned before the gate was opened")
	case <-time.After(50 * time.Millisecond):
	}

	st.AllowRead("t1", true)

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitRead did not unblock once the gate opened")
	}
}

func TestAllowWriteGatesWaitWrite(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	defer st.Close()

	st.AllowWrite(false)

	unblocked := make(chan struct{})
	go func() {
		st.WaitWrite()
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("WaitWrite returned before writes were re-enabled")
	case <-time.After(50 * time.Millisecond):
	}

	st.AllowWrite(true)

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitWrite did not unblock once writes were allowed")
	}
}

func TestDBLockSerializesStructuralReaders(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	defer st.Close()

	unlock := st.DBLock()

	acquired := make(chan struct{})
	go func() {
		unlock2 := st.DBLock()
		close(acquired)
		unlock2()
	}()

	select {
	case <-acquired:
		t.Fatal("second DBLock acquired before the first was released")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second DBLock did not acquire after the first was released")
	}
}
