package dbm

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ndb/pkg/ndb/notify"
	"github.com/cuemby/ndb/pkg/ndb/queue"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

func newTestManager(t *testing.T) (*Manager, store.Store, *queue.Queue, *notify.Broker) {
	t.Helper()
	st, err := store.New("")
	require.NoError(t, err)

	q := queue.New(16)
	broker := notify.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	m := New(q, st, broker, zerolog.Nop())
	m.Start()
	t.Cleanup(m.Stop)
	return m, st, q, broker
}

// sync blocks until every event already enqueued ahead of it has been
// applied by the dispatch loop, the same rendezvous queue.WaitEvent gives
// a Source's reader loop on a graceful close.
func sync(t *testing.T, q *queue.Queue) {
	t.Helper()
	done := make(chan struct{})
	q.Put("t1", queue.WaitEvent{Done: done})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch loop to drain")
	}
}

func TestApplyLinkNewAndDelete(t *testing.T) {
	_, st, q, broker := newTestManager(t)
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyLink,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"index": 7, "flags": 0x1},
		Attrs: rtnl.Attrs{
			rtnl.IFLA_IFNAME:  "dummy0",
			rtnl.IFLA_ADDRESS: []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		},
	})
	sync(t, q)

	row, ok := st.GetInterface(store.InterfaceKey{Target: "t1", Index: 7})
	require.True(t, ok)
	assert.Equal(t, "dummy0", row.IfName)
	assert.Equal(t, net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}.String(), row.Address)
	assert.Equal(t, "up", row.State())

	change := <-sub
	assert.Equal(t, "interfaces", change.Table)
	assert.Equal(t, notify.Upserted, change.Kind)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyLink,
		Action: rtnl.ActionDel,
		Header: map[string]int64{"index": 7},
	})
	sync(t, q)

	_, ok = st.GetInterface(store.InterfaceKey{Target: "t1", Index: 7})
	assert.False(t, ok)

	change = <-sub
	assert.Equal(t, notify.Deleted, change.Kind)
}

func TestApplyLinkDeleteCascadesDependents(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	q.Put("t1",
		rtnl.Msg{
			Family: rtnl.FamilyLink,
			Action: rtnl.ActionNew,
			Header: map[string]int64{"index": 3},
			Attrs:  rtnl.Attrs{rtnl.IFLA_IFNAME: "eth0"},
		},
		rtnl.Msg{
			Family: rtnl.FamilyAddr,
			Action: rtnl.ActionNew,
			Header: map[string]int64{"index": 3, "prefixlen": 24, "family": 2, "scope": 0},
			Attrs:  rtnl.Attrs{rtnl.IFA_LOCAL: "10.0.0.1"},
		},
		rtnl.Msg{
			Family: rtnl.FamilyRoute,
			Action: rtnl.ActionNew,
			Header: map[string]int64{"family": 2, "dst_len": 0, "table": 254},
			Attrs:  rtnl.Attrs{rtnl.RTA_OIF: int64(3)},
		},
	)
	sync(t, q)

	require.Len(t, st.ListAddresses("t1", nil), 1)
	require.Len(t, st.ListRoutes("t1", nil), 1)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyLink,
		Action: rtnl.ActionDel,
		Header: map[string]int64{"index": 3},
	})
	sync(t, q)

	assert.Empty(t, st.ListAddresses("t1", nil))
	assert.Empty(t, st.ListRoutes("t1", nil))
}

func TestApplyAddrFallsBackToAddress(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyAddr,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"index": 5, "prefixlen": 32, "family": 2, "scope": 253},
		Attrs:  rtnl.Attrs{rtnl.IFA_ADDRESS: "192.168.1.1"},
	})
	sync(t, q)

	rows := st.ListAddresses("t1", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "192.168.1.1", rows[0].Key.Address)
	assert.Equal(t, 253, rows[0].Scope)
}

func TestApplyRouteWithMultipath(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	multipath := encodeMultipathForTest(t, 4, net.ParseIP("10.0.0.254"))
	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyRoute,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"family": 2, "dst_len": 0, "table": 254},
		Attrs: rtnl.Attrs{
			rtnl.RTA_MULTIPATH: multipath,
		},
	})
	sync(t, q)

	rows := st.ListRoutes("t1", nil)
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Multipath, 1)
	assert.Equal(t, 4, rows[0].Multipath[0].IfIndex)
	assert.Equal(t, "10.0.0.254", rows[0].Multipath[0].Gateway)
}

func TestApplyNeigh(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyNeigh,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"ifindex": 3, "family": 2, "state": 0x2},
		Attrs: rtnl.Attrs{
			rtnl.NDA_DST:    "10.0.0.254",
			rtnl.NDA_LLADDR: []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		},
	})
	sync(t, q)

	rows := st.ListNeighbours("t1", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "10.0.0.254", rows[0].Key.Dst)
	assert.Equal(t, net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}.String(), rows[0].LLAddr)
}

func TestApplyRuleDefaultsTableFromHeader(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyRule,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"family": 2, "table": 220, "src_len": 0, "dst_len": 0, "rtm_type": 1},
	})
	sync(t, q)

	rows := st.ListRules("t1", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, 220, rows[0].Key.Table)
}

func TestMarkFailedTombstonesRows(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyLink,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"index": 1},
		Attrs:  rtnl.Attrs{rtnl.IFLA_IFNAME: "lo"},
	})
	sync(t, q)

	q.Put("t1", queue.MarkFailed{})
	sync(t, q)

	row, ok := st.GetInterface(store.InterfaceKey{Target: "t1", Index: 1})
	require.True(t, ok)
	assert.NotZero(t, row.FTflags&store.FTFlagStale)
}

func TestFlushTargetDropsOnlyThatTarget(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyLink,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"index": 1},
		Attrs:  rtnl.Attrs{rtnl.IFLA_IFNAME: "lo"},
	})
	sync(t, q)
	q.Put("t2", rtnl.Msg{
		Family: rtnl.FamilyLink,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"index": 1},
		Attrs:  rtnl.Attrs{rtnl.IFLA_IFNAME: "lo"},
	})
	sync(t, q)

	q.Put("t1", queue.FlushTarget{})
	sync(t, q)

	assert.Empty(t, st.ListInterfaces("t1", nil))
	assert.Len(t, st.ListInterfaces("t2", nil), 1)
}

func TestSchemaReadLockUnlockTogglesGate(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	q.Put("t1", queue.SchemaReadLock{Target: "t1"})
	sync(t, q)

	unblocked := make(chan struct{})
	go func() {
		st.WaitRead("t1")
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("WaitRead returned before the read gate was reopened")
	case <-time.After(50 * time.Millisecond):
	}

	q.Put("t1", queue.SchemaReadUnlock{Target: "t1"})
	sync(t, q)

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitRead did not unblock after SchemaReadUnlock")
	}
}

func TestSyncStartClosesDone(t *testing.T) {
	_, _, q, _ := newTestManager(t)

	done := make(chan struct{})
	q.Put("t1", queue.SyncStart{Done: done})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SyncStart's Done channel was not closed")
	}
}

func TestShutdownStopsDispatchLoop(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	q := queue.New(4)
	broker := notify.NewBroker()
	broker.Start()
	defer broker.Stop()

	m := New(q, st, broker, zerolog.Nop())
	m.Start()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after Shutdown was dispatched")
	}
}

func TestUnhandledFamilyIsDropped(t *testing.T) {
	_, st, q, _ := newTestManager(t)

	q.Put("t1", rtnl.Msg{
		Family: rtnl.FamilyQdisc,
		Action: rtnl.ActionNew,
		Header: map[string]int64{"index": 1},
	})
	sync(t, q)

	assert.Empty(t, st.ListInterfaces("t1", nil))
}

// encodeMultipathForTest builds one rtnexthop entry (rtnh_len, flags,
// hops, ifindex) followed by a single RTA_GATEWAY attribute, mirroring
// the kernel's uapi struct rtnexthop layout that decodeMultipath parses.
func encodeMultipathForTest(t *testing.T, ifindex int32, gw net.IP) []byte {
	t.Helper()
	gw4 := gw.To4()
	require.NotNil(t, gw4)

	attr := make([]byte, 4+len(gw4))
	attr[0] = byte(len(attr))
	attr[1] = byte(len(attr) >> 8)
	attr[2] = byte(rtnl.RTA_GATEWAY)
	attr[3] = 0
	copy(attr[4:], gw4)

	rtnhLen := 8 + len(attr)
	buf := make([]byte, rtnhLen)
	buf[0] = byte(rtnhLen)
	buf[1] = byte(rtnhLen >> 8)
	buf[2] = 0 // flags
	buf[3] = 1 // hops
	buf[4] = byte(ifindex)
	buf[5] = byte(ifindex >> 8)
	buf[6] = byte(ifindex >> 16)
	buf[7] = byte(ifindex >> 24)
	copy(buf[8:], attr)
	return buf
}
