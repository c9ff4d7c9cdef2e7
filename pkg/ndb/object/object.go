// Package object implements RTNL_Object (C5): a stateful handle over one
// row of one table, with commit/rollback and dependency tracking:
// a merged view of a loaded row and staged changes,
// expressed as a generic engine (this file) plus one Spec
// implementation per table (interface.go, address.go, route.go,
// neigh.go, rule.go) supplying the table-specific request building and
// snapshot collection.
package object

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/ndb/pkg/metrics"
	"github.com/cuemby/ndb/pkg/ndb/notify"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// State is the Object lifecycle:
// invalid → system on commit confirmation, * → invalid on
// commit error.
type State string

const (
	StateInvalid  State = "invalid"
	StateSystem   State = "system"
	StateSnapshot State = "snapshot"
	StateSetns    State = "setns"
	StateRemote   State = "remote"
)

// DefaultCommitTimeout bounds how long Commit waits for a confirming
// event on the rendezvous before giving up.
const DefaultCommitTimeout = 5 * time.Second

var (
	ErrCommitTimeout = errors.New("ndb: commit: no confirming event within timeout")
	ErrNoSnapshot    = errors.New("ndb: rollback: object has no prior snapshot")
)

// Backend is what an Object needs to reach the kernel and observe the
// store, supplied by the owning View. It decouples this package from
// pkg/ndb/source and pkg/ndb/registry (callers, DBM and
// Sources are separate thread roles; the Object only needs a narrow
// slice of each).
type Backend interface {
	Store() store.Store
	Broker() *notify.Broker
	// Request dispatches req against the named target's Source
	// connection.
	Request(target string, req rtnl.Request) error
	// SetTflag asks the DBM — the writer of every kernel-derived row — to
	// toggle one f_tflags bit on the row named by table/key.
	// Routed through the DBM rather than applied directly so
	// those rows keep their single writer even for
	// this transient bookkeeping.
	SetTflag(target, table string, key any, flag int, on bool)
}

// Dependent names one row a Spec's Dependents collects.
type Dependent struct {
	Spec Spec
	Key  any
}

// Spec is the per-table plugin an Object defers to for anything
// table-specific: building the outbound request, loading/keying a row,
// and (Interfaces only) collecting dependents for snapshot/rollback.
type Spec interface {
	Table() string
	Family() rtnl.Family
	// CompleteKey resolves a user-supplied scalar or partial key into
	// a concrete store key for target: a scalar or a partial key maps
	// onto the appropriate key
	// field"). s lets a table resolve a scalar that needs a store lookup
	// (an interface name to its index).
	CompleteKey(s store.Store, target string, in any) (any, error)
	// Load reads the row for key as a generic field map; ok is false
	// if no such row exists yet (a not-yet-created object).
	Load(s store.Store, key any) (map[string]any, bool)
	// MakeReq builds the outbound RTNL request for action from the
	// staged-over-loaded merged row.
	MakeReq(action rtnl.Action, key any, merged map[string]any, priorState State) rtnl.Request
	// Dependents returns rows that must be snapshotted/restored
	// alongside key; nil for every table except Interface.
	Dependents(s store.Store, key any) []Dependent
	// KeyString renders key the same way DBM stringifies it in
	// notify.Change.Key, so Commit can match its confirming event.
	KeyString(key any) string
}

// Accessor extends Spec with the bulk-read operations pkg/ndb/view needs
// to list and filter a table generically. Every concrete Spec in this
// package also implements Accessor; View depends only on this narrower
// view of them.
type Accessor interface {
	Spec
	// List returns every row of the table for target whose generic
	// field map satisfies every key/value in constraints (an empty
	// constraints matches every row).
	List(s store.Store, target string, constraints map[string]any) []map[string]any
	// NaturalKey resolves a concrete store key from a fully loaded
	// field map (used after List to build a child Object per row).
	NaturalKey(target string, row map[string]any) any
}

// Snapshot is a captured row plus its dependents, taken atomically under
// the store's coarse lock.
type Snapshot struct {
	CtxID string
	Spec  Spec
	Key   any
	Row   map[string]any
	Deps  []*Snapshot
}

// Object is a stateful handle over one row of one table.
type Object struct {
	backend Backend
	spec    Spec
	target  string
	key     any
	state   State
	loaded  map[string]any
	staging map[string]any
	removed bool

	lastSnapshot *Snapshot
}

// New wraps an existing (or not-yet-loaded) row identified by key.
func New(backend Backend, spec Spec, target string, key any) *Object {
	return &Object{
		backend: backend,
		spec:    spec,
		target:  target,
		key:     key,
		state:   StateInvalid,
		staging: map[string]any{},
	}
}

// Create starts a new object in the invalid state with staging
// pre-populated from fields.
func Create(backend Backend, spec Spec, target string, fields map[string]any) (*Object, error) {
	key, err := spec.CompleteKey(backend.Store(), target, fields)
	if err != nil {
		return nil, err
	}
	o := New(backend, spec, target, key)
	for k, v := range fields {
		o.staging[k] = v
	}
	return o, nil
}

// Target returns the owning source's target name.
func (o *Object) Target() string { return o.target }

// Key returns the object's composite store key.
func (o *Object) Key() any { return o.key }

// State reports the current lifecycle state.
func (o *Object) State() State { return o.state }

func (o *Object) ensureLoaded() {
	if o.loaded != nil {
		return
	}
	o.backend.Store().WaitRead(o.target)
	if row, ok := o.spec.Load(o.backend.Store(), o.key); ok {
		o.loaded = row
		if o.state == StateInvalid {
			o.state = StateSystem
		}
	} else {
		o.loaded = map[string]any{}
	}
}

// Get returns the merged (staged-over-loaded) value for field.
func (o *Object) Get(field string) any {
	if v, ok := o.staging[field]; ok {
		return v
	}
	o.ensureLoaded()
	return o.loaded[field]
}

// Set writes field to staging and returns o, chainable.
func (o *Object) Set(field string, value any) *Object {
	o.staging[field] = value
	return o
}

// SetAll merges kv into staging.
func (o *Object) SetAll(kv map[string]any) *Object {
	for k, v := range kv {
		o.staging[k] = v
	}
	return o
}

// Remove marks the object for deletion; the next Commit sends the DEL
// request.
func (o *Object) Remove() *Object {
	o.removed = true
	return o
}

func (o *Object) merged() map[string]any {
	o.ensureLoaded()
	out := make(map[string]any, len(o.loaded)+len(o.staging))
	for k, v := range o.loaded {
		out[k] = v
	}
	for k, v := range o.staging {
		out[k] = v
	}
	return out
}

// Commit realizes staging (or a pending Remove) against the kernel:
// it snapshots first, issues the request, then waits for
// a confirming event on the row-change broker up to DefaultCommitTimeout.
func (o *Object) Commit() error {
	return o.CommitTimeout(DefaultCommitTimeout)
}

// CommitTimeout is Commit with an explicit wait bound (tests use a
// shorter one).
func (o *Object) CommitTimeout(timeout time.Duration) error {
	table := o.spec.Table()
	timer := metrics.NewTimer()
	outcome := "applied"
	defer func() {
		timer.ObserveDurationVec(metrics.CommitDuration, table)
		metrics.CommitsTotal.WithLabelValues(table, outcome).Inc()
	}()

	if _, err := o.snapshot(""); err != nil {
		outcome = "snapshot_error"
		return err
	}

	merged := o.merged()
	action := rtnl.ActionSet
	switch {
	case o.removed:
		action = rtnl.ActionDel
	case len(o.loaded) == 0:
		// No loaded row: a fresh create, or a snapshot replay of a row
		// the kernel has already deleted.
		action = rtnl.ActionNew
	}

	req := o.spec.MakeReq(action, o.key, merged, o.state)

	sub := o.backend.Broker().Subscribe()
	defer o.backend.Broker().Unsubscribe(sub)

	// Mark the row transacting for the width of the request/echo window,
	// and always clear it again before returning, whatever the outcome.
	o.backend.SetTflag(o.target, table, o.key, store.FTFlagTransacting, true)
	defer o.backend.SetTflag(o.target, table, o.key, store.FTFlagTransacting, false)

	if err := o.backend.Request(o.target, req); err != nil {
		// On RTNL error, staging is untouched and
		// state becomes invalid; the error is raised as-is.
		o.state = StateInvalid
		outcome = "request_error"
		return err
	}

	wantKind := notify.Upserted
	if o.removed {
		wantKind = notify.Deleted
	}
	keyStr := o.spec.KeyString(o.key)
	wantName, _ := merged["ifname"].(string)
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-sub:
			if !ok {
				o.state = StateInvalid
				outcome = "timeout"
				return ErrCommitTimeout
			}
			if c.Table != o.spec.Table() || c.Target != o.target || c.Kind != wantKind {
				continue
			}
			matched := c.Key == keyStr
			if !matched && wantKind == notify.Upserted && wantName != "" {
				// A created (or snapshot-recreated) interface comes back
				// with a kernel-assigned index, so the echo is matched by
				// the stable ifname and the key re-resolved from the row.
				if row, isMap := c.Row.(map[string]any); isMap && row["ifname"] == wantName {
					if k, err := o.spec.CompleteKey(o.backend.Store(), o.target, row); err == nil {
						o.key = k
						matched = true
					}
				}
			}
			if matched {
				o.state = StateSystem
				o.loaded = merged
				o.staging = map[string]any{}
				return nil
			}
		case <-deadline:
			o.state = StateInvalid
			outcome = "timeout"
			return ErrCommitTimeout
		}
	}
}

// Snapshot captures the object's current row plus, for Interfaces, its
// dependents. An empty ctxid generates a fresh one.
func (o *Object) Snapshot(ctxid string) (*Snapshot, error) {
	return o.snapshot(ctxid)
}

func (o *Object) snapshot(ctxid string) (*Snapshot, error) {
	if ctxid == "" {
		ctxid = uuid.NewString()
	}
	unlock := o.backend.Store().DBLock()
	defer unlock()
	return o.snapshotLocked(ctxid)
}

func (o *Object) snapshotLocked(ctxid string) (*Snapshot, error) {
	row, ok := o.spec.Load(o.backend.Store(), o.key)
	if !ok {
		row = o.merged()
	}
	snp := &Snapshot{CtxID: ctxid, Spec: o.spec, Key: o.key, Row: row}
	o.backend.Store().PutSnapshot(ctxid, o.spec.Table(), row)

	for _, dep := range o.spec.Dependents(o.backend.Store(), o.key) {
		child := New(o.backend, dep.Spec, o.target, dep.Key)
		child.state = StateSystem
		childSnp, err := child.snapshotLocked(ctxid)
		if err != nil {
			return nil, err
		}
		snp.Deps = append(snp.Deps, childSnp)
	}

	o.lastSnapshot = snp
	return snp, nil
}

// Rollback replays the last commit's snapshot: the root first, so that a
// kernel-deleted Interface exists again before any dependent address or
// route that references it is replayed, then each dependent with its
// foreign keys rewritten to the root's possibly new kernel-assigned
// index. Passing a ctxid other than the object's own last snapshot is
// not supported by this in-process handle — only the snapshot taken by
// this Object's own last Commit can be replayed.
func (o *Object) Rollback(ctxid string) error {
	snp := o.lastSnapshot
	if snp == nil {
		return ErrNoSnapshot
	}
	if ctxid != "" && ctxid != snp.CtxID {
		return fmt.Errorf("ndb: rollback: ctxid %q does not match last snapshot %q", ctxid, snp.CtxID)
	}
	metrics.RollbacksTotal.WithLabelValues(o.spec.Table()).Inc()
	return restore(o.backend, o.target, snp)
}

func restore(backend Backend, target string, snp *Snapshot) error {
	// Root first: an address or route cannot be recreated before the
	// interface it references exists again.
	obj := New(backend, snp.Spec, target, snp.Key)
	obj.state = StateSnapshot
	obj.SetAll(snp.Row)
	if err := obj.Commit(); err != nil {
		return err
	}

	// A recreated interface comes back with a kernel-assigned index that
	// may differ from the captured one (Commit re-resolves obj.key from
	// the echo by ifname), so every dependent's reference to the old
	// index is rewritten before its own replay.
	oldIdx, newIdx := keyIndex(snp.Key), keyIndex(obj.key)
	for _, dep := range snp.Deps {
		d := dep
		if oldIdx != 0 && newIdx != 0 && oldIdx != newIdx {
			d = rebindIndex(dep, oldIdx, newIdx)
		}
		if err := restore(backend, target, d); err != nil {
			return err
		}
	}
	return nil
}

// keyIndex extracts the kernel ifindex from an interfaces key; zero for
// every other table, whose snapshots never reassign dependents.
func keyIndex(key any) int {
	if k, ok := key.(store.InterfaceKey); ok {
		return k.Index
	}
	return 0
}

// rebindIndex returns a copy of dep with every foreign reference to the
// root's old ifindex rewritten to the newly assigned one: an address's
// owning index, a route's oif, a port's master, a VLAN child's link, a
// neighbour's ifindex. The snapshot itself is left untouched so a second
// replay starts from the same captured state.
func rebindIndex(dep *Snapshot, oldIdx, newIdx int) *Snapshot {
	row := make(map[string]any, len(dep.Row))
	for k, v := range dep.Row {
		row[k] = v
	}
	key := dep.Key
	switch k := key.(type) {
	case store.AddressKey:
		if k.Index == oldIdx {
			k.Index = newIdx
			key = k
		}
		if idx, _ := row["index"].(int); idx == oldIdx {
			row["index"] = newIdx
		}
	case store.InterfaceKey:
		if m, _ := row["master"].(int); m == oldIdx {
			row["master"] = newIdx
		}
		if l, _ := row["link"].(int); l == oldIdx {
			row["link"] = newIdx
		}
	case store.RouteKey:
		if oif, _ := row["oif"].(int); oif == oldIdx {
			row["oif"] = newIdx
		}
	case store.NeighKey:
		if k.IfIndex == oldIdx {
			k.IfIndex = newIdx
			key = k
		}
		if idx, _ := row["ifindex"].(int); idx == oldIdx {
			row["ifindex"] = newIdx
		}
	}
	return &Snapshot{CtxID: dep.CtxID, Spec: dep.Spec, Key: key, Row: row, Deps: dep.Deps}
}
