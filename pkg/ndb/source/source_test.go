package source

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ndb/pkg/ndb/queue"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// fakeConn stands in for a kernel or remote socket so these tests don't
// depend on the host having a working netlink stack.
type fakeConn struct {
	mu       sync.Mutex
	sent     []rtnl.Request
	sendErr  error
	dumpErr  error
	closed   bool
	received chan []rtnl.Msg
}

func newFakeConn() *fakeConn {
	return &fakeConn{received: make(chan []rtnl.Msg)}
}

func (c *fakeConn) Send(req rtnl.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, req)
	return nil
}

func (c *fakeConn) Dump(family rtnl.Family, extra map[string]int64) ([]rtnl.Msg, error) {
	return nil, c.dumpErr
}

func (c *fakeConn) Receive() ([]rtnl.Msg, error) {
	msgs, ok := <-c.received
	if !ok {
		return nil, &rtnl.ClosedError{}
	}
	return msgs, nil
}

func (c *fakeConn) Clone() (rtnl.Conn, error) { return c, nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.received)
	}
	return nil
}

// drainQueue stands in for a dbm.Manager that never applies anything but
// still honors the WaitEvent rendezvous a graceful readLoop exit blocks on.
func drainQueue(q *queue.Queue) {
	for b := range q.Chan() {
		for _, ev := range b.Events {
			if w, ok := ev.(queue.WaitEvent); ok {
				close(w.Done)
			}
		}
	}
}

const kindFake Kind = "fake-test"

func newTestSource(t *testing.T, conn *fakeConn) (*Source, *queue.Queue) {
	t.Helper()
	RegisterDialer(kindFake, func(string, map[string]store.SourceOption) (rtnl.Conn, error) {
		return conn, nil
	})
	st, err := store.New("")
	require.NoError(t, err)
	q := queue.New(32)
	go drainQueue(q)
	return New("t1", kindFake, nil, false, q, st, zerolog.Nop()), q
}

func TestSourceReachesRunningAfterDial(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSource(t, conn)

	s.Start()
	defer s.Close(false)

	select {
	case <-s.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("source did not signal ready")
	}
	assert.Equal(t, StateRunning, s.State())
}

func TestSourceSendFailsFastWithNoConnection(t *testing.T) {
	st, err := store.New("")
	require.NoError(t, err)
	q := queue.New(4)
	s := New("t1", kindFake, nil, false, q, st, zerolog.Nop())

	// never Start()ed: s.conn is nil, Send must exhaust its retries and
	// return an error rather than block indefinitely.
	done := make(chan error, 1)
	go func() { done <- s.Send(rtnl.Request{Family: rtnl.FamilyLink, Action: rtnl.ActionNew}) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return after exhausting retries")
	}
}

func TestSourceCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSource(t, conn)
	s.Start()

	select {
	case <-s.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("source did not signal ready")
	}

	require.NoError(t, s.Close(false))
	require.NoError(t, s.Close(false))
	assert.Equal(t, StateStopped, s.State())
}

func TestSourceCloseFlushDropsRows(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSource(t, conn)
	s.Start()
	select {
	case <-s.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("source did not signal ready")
	}

	s.st.UpsertInterface(store.InterfaceRow{Key: store.InterfaceKey{Target: "t1", Index: 1}, IfName: "lo"})
	require.NoError(t, s.Close(true))

	assert.Empty(t, s.st.ListInterfaces("t1", nil))
}
