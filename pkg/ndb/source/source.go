// Package source implements Source (C1): the per-target connection to
// one rtnetlink-speaking endpoint — local, a network namespace, or a
// remote daemon over gRPC — and the reader goroutine that turns its
// traffic into queue batches. FailPause and the bulk-dump-under-closed-
// read-gate protocol are carried over unchanged in meaning.
package source

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ndb/pkg/metrics"
	"github.com/cuemby/ndb/pkg/ndb/queue"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// FailPause is the wait between reconnect attempts of a persistent
// source.
const FailPause = 5 * time.Second

// State is the Source lifecycle FSM.
type State string

const (
	StateInit       State = "init"
	StateConnecting State = "connecting"
	StateLoading    State = "loading"
	StateRunning    State = "running"
	StateFailed     State = "failed"
	StateStopped    State = "stopped"
)

// Kind selects which transport Dial uses.
type Kind string

const (
	KindLocal  Kind = "local"
	KindNetns  Kind = "netns"
	KindRemote Kind = "remote"
)

// Dialer opens a fresh rtnl.Conn for one Source attempt; swapped per Kind.
type Dialer func(target string, options map[string]store.SourceOption) (rtnl.Conn, error)

var dialers = map[Kind]Dialer{
	KindLocal: dialLocal,
	KindNetns: dialNetns,
}

// RegisterDialer lets pkg/rtnlremote install the remote transport without
// this package importing it (it would otherwise import grpc for every
// build, including ones that never use a remote source).
func RegisterDialer(kind Kind, d Dialer) {
	dialers[kind] = d
}

func dialLocal(string, map[string]store.SourceOption) (rtnl.Conn, error) {
	return rtnl.Dial(0)
}

// Source is one FSM-driven connection to a target kernel.
type Source struct {
	Target     string
	Kind       Kind
	Options    map[string]store.SourceOption
	Persistent bool

	q   *queue.Queue
	st  store.Store
	log zerolog.Logger

	mu    sync.RWMutex
	state State
	conn  rtnl.Conn

	shutdown chan struct{}
	started  chan struct{}
	startOk  sync.Once
	wg       sync.WaitGroup
}

// New builds a Source. Start must be called to begin its reader
// goroutine.
func New(target string, kind Kind, options map[string]store.SourceOption, persistent bool, q *queue.Queue, st store.Store, log zerolog.Logger) *Source {
	return &Source{
		Target:     target,
		Kind:       kind,
		Options:    options,
		Persistent: persistent,
		q:          q,
		st:         st,
		log:        log.With().Str("target", target).Logger(),
		state:      StateInit,
		shutdown:   make(chan struct{}),
		started:    make(chan struct{}),
	}
}

// State reports the current FSM state.
func (s *Source) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Source) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Debug().Str("state", string(st)).Msg("source state transition")
}

func (s *Source) markStarted() {
	s.startOk.Do(func() { close(s.started) })
}

// Started returns a channel closed once the source has reached running
// or failed for the first time; Registry.Add blocks on it.
func (s *Source) Started() <-chan struct{} { return s.started }

// Start launches the reader goroutine, one per Source.
func (s *Source) Start() {
	s.wg.Add(1)
	go s.run()
}

// Close terminates the Source. If flush, the store's rows for this
// target are also dropped.
func (s *Source) Close(flush bool) error {
	s.mu.Lock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()

	if flush {
		s.st.Flush(s.Target)
	}
	return nil
}

// Restart closes and re-starts the source, holding the store's read
// gate shut for the target throughout so readers never observe a
// half-torn-down schema.
func (s *Source) Restart(reason string) {
	s.log.Debug().Str("reason", reason).Msg("restarting source")
	metrics.SourceRestartsTotal.WithLabelValues(s.Target, reason).Inc()
	s.q.Put(s.Target, queue.SchemaReadLock{Target: s.Target})
	defer s.q.Put(s.Target, queue.SchemaReadUnlock{Target: s.Target})

	s.Close(false)
	s.mu.Lock()
	s.shutdown = make(chan struct{})
	s.started = make(chan struct{})
	s.startOk = sync.Once{}
	s.mu.Unlock()
	s.Start()
}

// Send dispatches req against the live connection (the owning View's
// object.Backend calls this via the Registry): a bounded retry against
// transient send failures, since the source may be mid-reconnect.
func (s *Source) Send(req rtnl.Request) error {
	const maxAttempts = 10
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			lastErr = fmt.Errorf("ndb: source %s: not connected", s.Target)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if err := conn.Send(req); err != nil {
			if _, ok := rtnl.Errno(err); ok {
				// The kernel answered with an error code; that is the
				// request's result, not a transport failure to retry.
				return err
			}
			lastErr = err
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return nil
	}
	return fmt.Errorf("ndb: source %s: send failed after retries: %w", s.Target, lastErr)
}

func (s *Source) isShutdown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func (s *Source) dial() (rtnl.Conn, error) {
	d, ok := dialers[s.Kind]
	if !ok {
		return nil, fmt.Errorf("ndb: source %s: unsupported kind %q", s.Target, s.Kind)
	}
	return d(s.Target, s.Options)
}

// run is the reader goroutine: connect, bulk-dump under a closed read
// gate, then stream events until the connection drops.
func (s *Source) run() {
	defer s.wg.Done()

	for {
		if s.isShutdown() {
			s.setState(StateStopped)
			return
		}

		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()

		s.setState(StateConnecting)
		conn, err := s.dial()
		if err != nil {
			if !s.handleFailure(err) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()

		s.setState(StateLoading)
		s.st.AllowRead(s.Target, false)
		dumpErr := s.bulkDump(conn)
		s.st.AllowRead(s.Target, true)
		if dumpErr != nil {
			if !s.handleFailure(dumpErr) {
				return
			}
			continue
		}

		s.markStarted()
		s.setState(StateRunning)
		s.q.Put(s.Target, queue.SyncStart{})

		reconnect := s.readLoop(conn)
		if !reconnect {
			return
		}
	}
}

// bulkDump issues the initial dump requests for every modeled family.
// qdisc/neighbour-table dumps are not issued eagerly; only the families
// backed by tables are dumped here.
func (s *Source) bulkDump(conn rtnl.Conn) error {
	s.q.Put(s.Target, queue.FlushTarget{})

	families := []rtnl.Family{rtnl.FamilyLink, rtnl.FamilyAddr, rtnl.FamilyNeigh, rtnl.FamilyRoute}
	for _, fam := range families {
		msgs, err := conn.Dump(fam, nil)
		if err != nil {
			return err
		}
		s.q.Put(s.Target, queue.Wrap(msgs)...)
	}

	const afInet, afInet6 = 2, 10
	for _, fam := range []int64{afInet, afInet6} {
		msgs, err := conn.Dump(rtnl.FamilyRule, map[string]int64{"family": fam})
		if err != nil {
			return err
		}
		s.q.Put(s.Target, queue.Wrap(msgs)...)
	}

	// AF_MPLS routes are not returned by the AF_UNSPEC route dump above
	// and need their own family-scoped request.
	msgs, err := conn.Dump(rtnl.FamilyRoute, map[string]int64{"family": rtnl.AF_MPLS})
	if err != nil {
		return err
	}
	s.q.Put(s.Target, queue.Wrap(msgs)...)
	return nil
}

// readLoop streams events until the connection closes or errors.
// Returns true if the Source should reconnect (persistent and the
// failure wasn't a graceful close), false if run() should exit.
func (s *Source) readLoop(conn rtnl.Conn) bool {
	for {
		msgs, err := conn.Receive()
		if err != nil {
			var closed *rtnl.ClosedError
			if errors.As(err, &closed) {
				s.log.Debug().Msg("source connection closed gracefully")
				s.setState(StateStopped)
				done := make(chan struct{})
				s.q.Put(s.Target, queue.WaitEvent{Done: done})
				<-done
				return false
			}
			return s.handleFailure(err)
		}
		if len(msgs) == 0 {
			continue
		}
		s.st.WaitWrite()
		s.q.Put(s.Target, queue.Wrap(msgs)...)
	}
}

// handleFailure reports a fatal-to-this-attempt error up to the DBM via
// MarkFailed and decides whether to sleep-and-retry (persistent) or give
// up.
func (s *Source) handleFailure(err error) bool {
	s.setState(StateFailed)
	s.markStarted()
	s.log.Error().Err(err).Msg("source error")
	s.q.Put(s.Target, queue.MarkFailed{})

	if !s.Persistent {
		return false
	}

	select {
	case <-time.After(FailPause):
		return true
	case <-s.shutdown:
		s.log.Debug().Msg("source shutdown during fail-pause")
		return false
	}
}
