// Package registry implements the Sources Registry (C7): a View over the
// sources table with kind-aware add/remove. It is the
// object.Backend every View/Object in this database is built against, so
// it is also where a commit's RTNL request actually reaches a Source.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/ndb/pkg/metrics"
	"github.com/cuemby/ndb/pkg/ndb/notify"
	"github.com/cuemby/ndb/pkg/ndb/queue"
	"github.com/cuemby/ndb/pkg/ndb/source"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// StartTimeout bounds how long Add waits for a newly registered source to
// signal ready before giving up.
const StartTimeout = 10 * time.Second

// Registry is the Sources Registry: it owns every live *source.Source,
// persists their descriptors, and satisfies object.Backend so commits
// from any View can reach the right connection (a map of sub-lifecycle
// objects guarded by a
// mutex, each wrapping its own goroutine).
type Registry struct {
	st     store.Store
	q      *queue.Queue
	broker *notify.Broker
	log    zerolog.Logger

	mu      sync.RWMutex
	sources map[string]*source.Source
}

// New builds an empty Registry. Sources persisted from a prior run (the
// store's sources/sources_options rows) are not auto-started;
// call Restore to bring them back up.
func New(st store.Store, q *queue.Queue, broker *notify.Broker, log zerolog.Logger) *Registry {
	return &Registry{
		st:      st,
		q:       q,
		broker:  broker,
		log:     log.With().Str("component", "registry").Logger(),
		sources: make(map[string]*source.Source),
	}
}

// Store satisfies object.Backend.
func (r *Registry) Store() store.Store { return r.st }

// Broker satisfies object.Backend.
func (r *Registry) Broker() *notify.Broker { return r.broker }

// Request satisfies object.Backend: it looks up target's live Source and
// asks it to send req.
func (r *Registry) Request(target string, req rtnl.Request) error {
	r.mu.RLock()
	src, ok := r.sources[target]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ndb: registry: no source for target %q", target)
	}
	return src.Send(req)
}

// SetTflag satisfies object.Backend: it hands the bit toggle to the DBM
// over the queue rather than mutating the store directly, since the DBM
// is the store's sole writer.
func (r *Registry) SetTflag(target, table string, key any, flag int, on bool) {
	r.q.Put(target, queue.SetTflag{Target: target, Table: table, Key: key, Flag: flag, On: on})
}

// Spec is a user-supplied source descriptor before shorthand translation.
type Spec struct {
	Target     string
	Kind       source.Kind
	Hostname   string // {hostname: H} shorthand
	Netns      string // {netns: X} shorthand
	Persistent bool
	Options    map[string]store.SourceOption
}

// defaults fills in Kind/Target from the hostname/netns shorthand: only
// fields not already set by the caller are overridden.
func (s Spec) defaults() Spec {
	if s.Hostname != "" && s.Kind == "" {
		s.Kind = source.KindRemote
		if s.Target == "" {
			s.Target = s.Hostname
		}
	}
	if s.Netns != "" && s.Kind == "" {
		s.Kind = source.KindNetns
		if s.Target == "" {
			s.Target = s.Netns
		}
	}
	if s.Kind == "" {
		s.Kind = source.KindLocal
	}
	return s
}

// Add instantiates and starts a Source, persists its descriptor, and
// blocks until it signals ready or StartTimeout elapses.
func (r *Registry) Add(spec Spec) (*source.Source, error) {
	spec = spec.defaults()
	if spec.Target == "" {
		return nil, fmt.Errorf("ndb: registry: add: target is required")
	}

	options := map[string]store.SourceOption{}
	for k, v := range spec.Options {
		options[k] = v
	}
	if spec.Hostname != "" {
		options["hostname"] = store.SourceOption{Type: "str", Value: spec.Hostname}
		options["protocol"] = store.SourceOption{Type: "str", Value: "ssh"}
	}
	if spec.Netns != "" {
		options["netns"] = store.SourceOption{Type: "str", Value: spec.Netns}
	}
	if spec.Persistent {
		options["persistent"] = store.SourceOption{Type: "int", Value: "1"}
	}

	r.mu.Lock()
	if _, exists := r.sources[spec.Target]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("ndb: registry: target %q already registered", spec.Target)
	}
	src := source.New(spec.Target, spec.Kind, options, spec.Persistent, r.q, r.st, r.log)
	r.sources[spec.Target] = src
	r.mu.Unlock()

	r.st.UpsertSource(store.SourceRow{Target: spec.Target, Kind: string(spec.Kind), Options: options})
	r.broker.Publish(notify.Change{
		Table: "sources", Target: spec.Target, Key: spec.Target, Kind: notify.Upserted,
		Row: map[string]any{"target": spec.Target, "kind": string(spec.Kind)},
	})

	src.Start()
	select {
	case <-src.Started():
	case <-time.After(StartTimeout):
		return src, fmt.Errorf("ndb: registry: source %q did not start within %s", spec.Target, StartTimeout)
	}
	if src.State() == source.StateFailed {
		return src, fmt.Errorf("ndb: registry: source %q failed to start", spec.Target)
	}
	return src, nil
}

// Remove closes target's Source (optionally flushing its store rows) and
// deletes its persistent descriptor.
func (r *Registry) Remove(target string, flush bool) error {
	r.mu.Lock()
	src, ok := r.sources[target]
	if ok {
		delete(r.sources, target)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("ndb: registry: no source for target %q", target)
	}

	err := src.Close(flush)
	r.st.DeleteSource(target)
	r.broker.Publish(notify.Change{Table: "sources", Target: target, Key: target, Kind: notify.Deleted})
	return err
}

// Restart restarts target's Source in place.
func (r *Registry) Restart(target, reason string) error {
	r.mu.RLock()
	src, ok := r.sources[target]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ndb: registry: no source for target %q", target)
	}
	src.Restart(reason)
	return nil
}

// Get returns the live Source for target, if registered.
func (r *Registry) Get(target string) (*source.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[target]
	return src, ok
}

// SourceStates samples every live source's kind and FSM state, the shape
// metrics.NewCollector consumes.
func (r *Registry) SourceStates() []metrics.SourceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]metrics.SourceState, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, metrics.SourceState{Kind: string(s.Kind), State: string(s.State())})
	}
	return out
}

// Targets lists every currently registered target.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for t := range r.sources {
		out = append(out, t)
	}
	return out
}

// Restore brings back every source persisted in the store,
// starting the whole fleet concurrently and reporting the first failure.
func (r *Registry) Restore() error {
	rows := r.st.ListSources()
	g := new(errgroup.Group)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			persistent := false
			if opt, ok := row.Options["persistent"]; ok && opt.Value == "1" {
				persistent = true
			}
			_, err := r.Add(Spec{
				Target:     row.Target,
				Kind:       source.Kind(row.Kind),
				Persistent: persistent,
				Options:    row.Options,
			})
			return err
		})
	}
	return g.Wait()
}

// CloseAll closes every registered source concurrently,
// collecting the first error.
func (r *Registry) CloseAll(flush bool) error {
	r.mu.Lock()
	srcs := make([]*source.Source, 0, len(r.sources))
	for t, s := range r.sources {
		srcs = append(srcs, s)
		delete(r.sources, t)
	}
	r.mu.Unlock()

	g := new(errgroup.Group)
	for _, s := range srcs {
		s := s
		g.Go(func() error { return s.Close(flush) })
	}
	return g.Wait()
}
