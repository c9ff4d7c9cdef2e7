// Package queue implements the single-producer-per-source,
// single-consumer event queue: every Source reader
// goroutine appends Batches, and exactly one DBM goroutine drains them in
// arrival order. Ordering is FIFO per source and atomic per batch; across
// sources, interleaving is arbitrary.
package queue

import "github.com/cuemby/ndb/pkg/rtnl"

// Event is either a parsed RTNL message or a control sentinel, as a
// tagged union. rtnl.Msg and the control
// types below all implement IsEvent so a single queue item type covers
// everything the DBM dispatch loop needs to switch on.
type Event interface {
	IsEvent()
}

// SyncStart marks the end of a Source's initial bulk dump.
// Done, if non-nil, is closed by the DBM once the sentinel is dispatched,
// letting the Source's start() rendezvous with "loading" having actually
// drained into the store.
type SyncStart struct {
	Done chan struct{}
}

func (SyncStart) IsEvent() {}

// MarkFailed tells the DBM to tombstone every row belonging to the
// enclosing batch's target.
type MarkFailed struct{}

func (MarkFailed) IsEvent() {}

// SchemaReadLock / SchemaReadUnlock toggle the store's per-target read
// gate; emitted by Source.restart() around its
// close+start cycle.
type SchemaReadLock struct{ Target string }

func (SchemaReadLock) IsEvent() {}

type SchemaReadUnlock struct{ Target string }

func (SchemaReadUnlock) IsEvent() {}

// FlushTarget tells the DBM to drop every row belonging to the enclosing
// batch's target. A Source enqueues it ahead of its bulk dump so the
// flush lands in FIFO order with the dump events that repopulate the
// tables, instead of racing them.
type FlushTarget struct{}

func (FlushTarget) IsEvent() {}

// WaitEvent is a rendezvous sentinel: when the DBM dispatches it, it
// closes Done, letting a caller block until every event enqueued before
// it has been applied.
type WaitEvent struct {
	Done chan struct{}
}

func (WaitEvent) IsEvent() {}

// Shutdown terminates the DBM's dispatch loop.
type Shutdown struct{}

func (Shutdown) IsEvent() {}

// SetTflag asks the DBM to toggle one f_tflags bit on a single row:
// an Object's Commit emits
// this around its request/echo window to mark the row transacting, and
// the DBM's dispatch propagates the same bit onto the row's owning
// Interface, if any (Table "interfaces" itself has no owner).
type SetTflag struct {
	Target string
	Table  string
	Key    any
	Flag   int
	On     bool
}

func (SetTflag) IsEvent() {}

// ErrEvent carries an error to be raised inside the DBM loop,
// terminating it; a batch containing one is how a Source reports a
// fatal (non-protocol) condition to the writer.
type ErrEvent struct{ Err error }

func (ErrEvent) IsEvent() {}

// wrap adapts a decoded rtnl.Msg into an Event; rtnl.Msg already declares
// IsEvent() so this is just a readability helper at call sites.
func wrap(msgs []rtnl.Msg) []Event {
	out := make([]Event, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	return out
}

// Wrap is exported for pkg/ndb/source, which only ever has []rtnl.Msg on
// hand and needs []Event to build a Batch.
func Wrap(msgs []rtnl.Msg) []Event { return wrap(msgs) }

// Batch is one queue item: every event in it shares a target and is
// applied by the DBM in order, as a unit.
type Batch struct {
	Target string
	Events []Event
}

// Queue is the event queue itself: an ordered channel of batches with a
// fixed buffer. Put and PutBatch block once that buffer is full, so a DBM
// that falls that far behind stalls the Source reader goroutines that
// enqueue into it.
type Queue struct {
	ch chan Batch
}

// New creates a Queue. capacity is the channel buffer; Source reader
// goroutines never block on Put beyond filling this buffer (a generous
// buffer, not a
// hard guarantee of infinite capacity, since Go channels are not
// unbounded — a sufficiently large buffer is the idiomatic approximation).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Queue{ch: make(chan Batch, capacity)}
}

// Put enqueues a batch for target carrying events, in order.
func (q *Queue) Put(target string, events ...Event) {
	q.ch <- Batch{Target: target, Events: events}
}

// PutBatch enqueues an already-built batch.
func (q *Queue) PutBatch(b Batch) {
	q.ch <- b
}

// Chan exposes the receive side for the DBM's dispatch loop (range/select).
func (q *Queue) Chan() <-chan Batch {
	return q.ch
}
