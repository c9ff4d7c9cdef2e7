// Package store is the Store component (C4): relational tables keyed by
// (target, ...rtnl-key...), indices, logical foreign references, and the
// per-target read/write gates. The default implementation
// (memStore) is in-memory; only the sources/sources_options tables are
// additionally mirrored to disk (boltMirror) — durable storage beyond
// the embedded store is out of
// scope.
package store

// f_tflags bit values, the generic per-row transient-flags column.
// FTFlagStale marks rows belonging to a source that just
// failed, until the next successful reload replaces or confirms them;
// FTFlagTransacting marks a row currently part of an in-flight commit, so
// a reverse trigger can mirror the flag onto dependents (e.g. Address ->
// owning Interface) and a transaction set can be selected across tables.
const (
	FTFlagTransacting = 1 << iota
	FTFlagStale
)

// InterfaceKey is the natural key of an interfaces row.
type InterfaceKey struct {
	Target string
	Index  int
}

// InterfaceRow projects RTM_*LINK attributes. Kind-specific
// fields (Vlan*, Br*, Vxlan*, VrfTable) are populated only when Kind
// matches; callers read them through the bridge/vlan views.
type InterfaceRow struct {
	Key             InterfaceKey
	IfName          string
	Address         string // MAC, IFLA_ADDRESS
	Flags           int
	Kind            string // "", "bridge", "vlan", "vxlan", "vrf", "dummy", ...
	Master          int    // IFLA_MASTER, 0 if none
	Link            int    // IFLA_LINK, parent index for vlan/vxlan
	VlanID          int
	VlanProtocol    string
	BrSTPState      int
	BrVlanFiltering bool
	VxlanID         int
	VxlanGroup      string
	VxlanLocal      string
	VrfTable        int
	FTflags         int
}

// State recomputes the up/down field from Flags; it is never stored.
func (r InterfaceRow) State() string {
	const IFF_UP = 0x1
	if r.Flags&IFF_UP != 0 {
		return "up"
	}
	return "down"
}

// AddressKey is the natural key of an addresses row.
type AddressKey struct {
	Target    string
	Index     int
	Address   string
	PrefixLen int
	Family    int
}

type AddressRow struct {
	Key     AddressKey
	Scope   int
	FTflags int
}

// RouteKey is the natural key of a routes row: family, dst, dst_len,
// table, priority, tos.
type RouteKey struct {
	Target   string
	Family   int
	Dst      string
	DstLen   int
	Table    int
	Priority int
	Tos      int
}

// Nexthop is one entry of a route's multipath list.
type Nexthop struct {
	IfIndex int
	Gateway string
	Weight  int
}

type RouteRow struct {
	Key       RouteKey
	OIF       int
	Gateway   string
	Multipath []Nexthop
	FTflags   int
}

// NeighKey is the natural key of a neighbours row.
type NeighKey struct {
	Target  string
	IfIndex int
	Dst     string
	Family  int
}

type NeighRow struct {
	Key     NeighKey
	LLAddr  string
	State   int
	FTflags int
}

// RuleKey is the natural key of a rules row: family plus the usual
// fib-rule selectors.
type RuleKey struct {
	Target   string
	Family   int
	Priority int
	Table    int
	Src      string
	SrcLen   int
	Dst      string
	DstLen   int
}

type RuleRow struct {
	Key     RuleKey
	Action  int
	FTflags int
}

// SourceOption is one row of sources_options: a typed
// key/value pair attached to a source, e.g. persistent=true, netns=foo.
type SourceOption struct {
	Type  string // "int" or "str"
	Value string
}

// SourceRow is a sources row.
type SourceRow struct {
	Target  string
	Kind    string
	Options map[string]SourceOption
	FTflags int
}

// SnapshotRow is one entry of the snapshots table:
// a copy of some other table's row, keyed by a context id, used to
// replay a rollback.
type SnapshotRow struct {
	CtxID string
	Table string
	// Row holds the table-specific row value (InterfaceRow, AddressRow,
	// ...) captured at snapshot time.
	Row any
}
