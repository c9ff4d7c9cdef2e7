package store

// Store is the full store contract: per-table upsert/delete/list, the
// sources table, snapshots for rollback, per-target read gating and a
// global write gate, and the one coarse lock used for structural reads
// that must appear atomic (snapshot dependency collection).
//
// The DBM applies every kernel event, so it is the only caller of the
// per-table Upsert*/Delete* methods. It is not the only writer: the
// Registry writes the sources table, Source.Close(flush=true) calls Flush,
// a Source's bulk reload toggles AllowRead, and an Object's snapshot calls
// PutSnapshot. The Store itself does not restrict who calls what.
type Store interface {
	UpsertInterface(row InterfaceRow)
	DeleteInterface(key InterfaceKey) (InterfaceRow, bool)
	GetInterface(key InterfaceKey) (InterfaceRow, bool)
	GetInterfaceByName(target, ifname string) (InterfaceRow, bool)
	ListInterfaces(target string, filter func(InterfaceRow) bool) []InterfaceRow
	CountInterfaces(target string) int

	UpsertBridgeMirror(row InterfaceRow)
	DeleteBridgeMirror(key InterfaceKey)
	ListBridge(target string) []InterfaceRow

	UpsertVlanMirror(row InterfaceRow)
	DeleteVlanMirror(key InterfaceKey)
	ListVlan(target string) []InterfaceRow

	UpsertAddress(row AddressRow)
	DeleteAddress(key AddressKey) (AddressRow, bool)
	GetAddress(key AddressKey) (AddressRow, bool)
	ListAddresses(target string, filter func(AddressRow) bool) []AddressRow

	UpsertRoute(row RouteRow)
	DeleteRoute(key RouteKey) (RouteRow, bool)
	GetRoute(key RouteKey) (RouteRow, bool)
	ListRoutes(target string, filter func(RouteRow) bool) []RouteRow

	UpsertNeighbour(row NeighRow)
	DeleteNeighbour(key NeighKey) (NeighRow, bool)
	GetNeighbour(key NeighKey) (NeighRow, bool)
	ListNeighbours(target string, filter func(NeighRow) bool) []NeighRow

	UpsertRule(row RuleRow)
	DeleteRule(key RuleKey) (RuleRow, bool)
	ListRules(target string, filter func(RuleRow) bool) []RuleRow

	UpsertSource(row SourceRow)
	DeleteSource(target string)
	GetSource(target string) (SourceRow, bool)
	ListSources() []SourceRow

	// Flush removes every row belonging to target, across every table.
	// The sources/sources_options row itself is not touched by Flush —
	// only Registry.Remove deletes it.
	Flush(target string)

	PutSnapshot(ctxid, table string, row any)
	GetSnapshots(ctxid string) []SnapshotRow
	DeleteSnapshots(ctxid string)

	// AllowRead toggles the per-target read gate, held shut while a
	// source bulk-dumps. WaitRead blocks the caller until
	// the gate for target is open.
	AllowRead(target string, allow bool)
	WaitRead(target string)

	// AllowWrite toggles the store-wide write gate, used to quiesce
	// writers on rebuild. WaitWrite blocks until mutations are permitted.
	AllowWrite(allow bool)
	WaitWrite()

	// DBLock returns an unlock func for the one coarse lock guarding
	// structural reads that must appear atomic (snapshot
	// dependency collection across the interfaces table).
	DBLock() func()

	Close() error
}
