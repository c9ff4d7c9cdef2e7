package store

import "sync"

// memStore is the default, in-memory Store implementation. One mutex
// guards all tables; that is coarser than a production relational engine
// would use, but the DBM does nearly all of the writing, so nothing here
// needs finer-grained concurrent writers.
type memStore struct {
	mu sync.Mutex

	// snapMu is the coarse structural lock DBLock hands out. It is
	// deliberately separate from mu: a snapshot holds it across several
	// table reads, each of which takes mu on its own.
	snapMu sync.Mutex

	interfaces map[InterfaceKey]InterfaceRow
	bridge     map[InterfaceKey]InterfaceRow
	vlan       map[InterfaceKey]InterfaceRow
	addresses  map[AddressKey]AddressRow
	routes     map[RouteKey]RouteRow
	neighbours map[NeighKey]NeighRow
	rules      map[RuleKey]RuleRow
	sources    map[string]SourceRow
	snapshots  map[string][]SnapshotRow

	gateMu     sync.Mutex
	gateCond   *sync.Cond
	readGates  map[string]bool // target -> allowed; absent == allowed
	writeGate  bool
	mirror     *boltMirror // nil if opened without a data dir
}

// New creates a Store. If dataDir is non-empty, the sources/
// sources_options tables are additionally mirrored to a bbolt file there,
// so sources come back after a daemon restart; pass "" for a purely
// in-memory store (e.g. in tests).
func New(dataDir string) (Store, error) {
	s := &memStore{
		interfaces: make(map[InterfaceKey]InterfaceRow),
		bridge:     make(map[InterfaceKey]InterfaceRow),
		vlan:       make(map[InterfaceKey]InterfaceRow),
		addresses:  make(map[AddressKey]AddressRow),
		routes:     make(map[RouteKey]RouteRow),
		neighbours: make(map[NeighKey]NeighRow),
		rules:      make(map[RuleKey]RuleRow),
		sources:    make(map[string]SourceRow),
		snapshots:  make(map[string][]SnapshotRow),
		readGates:  make(map[string]bool),
		writeGate:  true,
	}
	s.gateCond = sync.NewCond(&s.gateMu)

	if dataDir != "" {
		m, err := openBoltMirror(dataDir)
		if err != nil {
			return nil, err
		}
		s.mirror = m
		rows, err := m.loadSources()
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			s.sources[row.Target] = row
		}
	}
	return s, nil
}

func (s *memStore) lock()   { s.mu.Lock() }
func (s *memStore) unlock() { s.mu.Unlock() }

// writeLock is what every mutating method takes: snapMu first, so a held
// DBLock (snapshot collection in flight) quiesces writers without
// blocking plain reads, then mu for the table maps themselves.
func (s *memStore) writeLock() func() {
	s.snapMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.snapMu.Unlock()
	}
}

// --- interfaces ---

func (s *memStore) UpsertInterface(row InterfaceRow) {
	defer s.writeLock()()
	s.interfaces[row.Key] = row
}

func (s *memStore) DeleteInterface(key InterfaceKey) (InterfaceRow, bool) {
	defer s.writeLock()()
	row, ok := s.interfaces[key]
	if ok {
		delete(s.interfaces, key)
	}
	return row, ok
}

func (s *memStore) GetInterface(key InterfaceKey) (InterfaceRow, bool) {
	s.lock()
	defer s.unlock()
	row, ok := s.interfaces[key]
	return row, ok
}

func (s *memStore) GetInterfaceByName(target, ifname string) (InterfaceRow, bool) {
	s.lock()
	defer s.unlock()
	for _, row := range s.interfaces {
		if row.Key.Target == target && row.IfName == ifname {
			return row, true
		}
	}
	return InterfaceRow{}, false
}

func (s *memStore) ListInterfaces(target string, filter func(InterfaceRow) bool) []InterfaceRow {
	s.lock()
	defer s.unlock()
	var out []InterfaceRow
	for _, row := range s.interfaces {
		if target != "" && row.Key.Target != target {
			continue
		}
		if filter == nil || filter(row) {
			out = append(out, row)
		}
	}
	return out
}

func (s *memStore) CountInterfaces(target string) int {
	s.lock()
	defer s.unlock()
	n := 0
	for _, row := range s.interfaces {
		if target == "" || row.Key.Target == target {
			n++
		}
	}
	return n
}

// --- bridge / vlan mirror tables ---

func (s *memStore) UpsertBridgeMirror(row InterfaceRow) {
	defer s.writeLock()()
	s.bridge[row.Key] = row
}

func (s *memStore) DeleteBridgeMirror(key InterfaceKey) {
	defer s.writeLock()()
	delete(s.bridge, key)
}

func (s *memStore) ListBridge(target string) []InterfaceRow {
	s.lock()
	defer s.unlock()
	var out []InterfaceRow
	for _, row := range s.bridge {
		if target == "" || row.Key.Target == target {
			out = append(out, row)
		}
	}
	return out
}

func (s *memStore) UpsertVlanMirror(row InterfaceRow) {
	defer s.writeLock()()
	s.vlan[row.Key] = row
}

func (s *memStore) DeleteVlanMirror(key InterfaceKey) {
	defer s.writeLock()()
	delete(s.vlan, key)
}

func (s *memStore) ListVlan(target string) []InterfaceRow {
	s.lock()
	defer s.unlock()
	var out []InterfaceRow
	for _, row := range s.vlan {
		if target == "" || row.Key.Target == target {
			out = append(out, row)
		}
	}
	return out
}

// --- addresses ---

func (s *memStore) UpsertAddress(row AddressRow) {
	defer s.writeLock()()
	s.addresses[row.Key] = row
}

func (s *memStore) DeleteAddress(key AddressKey) (AddressRow, bool) {
	defer s.writeLock()()
	row, ok := s.addresses[key]
	if ok {
		delete(s.addresses, key)
	}
	return row, ok
}

func (s *memStore) GetAddress(key AddressKey) (AddressRow, bool) {
	s.lock()
	defer s.unlock()
	row, ok := s.addresses[key]
	return row, ok
}

func (s *memStore) ListAddresses(target string, filter func(AddressRow) bool) []AddressRow {
	s.lock()
	defer s.unlock()
	var out []AddressRow
	for _, row := range s.addresses {
		if target != "" && row.Key.Target != target {
			continue
		}
		if filter == nil || filter(row) {
			out = append(out, row)
		}
	}
	return out
}

// --- routes ---

func (s *memStore) UpsertRoute(row RouteRow) {
	defer s.writeLock()()
	s.routes[row.Key] = row
}

func (s *memStore) DeleteRoute(key RouteKey) (RouteRow, bool) {
	defer s.writeLock()()
	row, ok := s.routes[key]
	if ok {
		delete(s.routes, key)
	}
	return row, ok
}

func (s *memStore) GetRoute(key RouteKey) (RouteRow, bool) {
	s.lock()
	defer s.unlock()
	row, ok := s.routes[key]
	return row, ok
}

func (s *memStore) ListRoutes(target string, filter func(RouteRow) bool) []RouteRow {
	s.lock()
	defer s.unlock()
	var out []RouteRow
	for _, row := range s.routes {
		if target != "" && row.Key.Target != target {
			continue
		}
		if filter == nil || filter(row) {
			out = append(out, row)
		}
	}
	return out
}

// --- neighbours ---

func (s *memStore) UpsertNeighbour(row NeighRow) {
	defer s.writeLock()()
	s.neighbours[row.Key] = row
}

func (s *memStore) DeleteNeighbour(key NeighKey) (NeighRow, bool) {
	defer s.writeLock()()
	row, ok := s.neighbours[key]
	if ok {
		delete(s.neighbours, key)
	}
	return row, ok
}

func (s *memStore) GetNeighbour(key NeighKey) (NeighRow, bool) {
	s.lock()
	defer s.unlock()
	row, ok := s.neighbours[key]
	return row, ok
}

func (s *memStore) ListNeighbours(target string, filter func(NeighRow) bool) []NeighRow {
	s.lock()
	defer s.unlock()
	var out []NeighRow
	for _, row := range s.neighbours {
		if target != "" && row.Key.Target != target {
			continue
		}
		if filter == nil || filter(row) {
			out = append(out, row)
		}
	}
	return out
}

// --- rules ---

func (s *memStore) UpsertRule(row RuleRow) {
	defer s.writeLock()()
	s.rules[row.Key] = row
}

func (s *memStore) DeleteRule(key RuleKey) (RuleRow, bool) {
	defer s.writeLock()()
	row, ok := s.rules[key]
	if ok {
		delete(s.rules, key)
	}
	return row, ok
}

func (s *memStore) ListRules(target string, filter func(RuleRow) bool) []RuleRow {
	s.lock()
	defer s.unlock()
	var out []RuleRow
	for _, row := range s.rules {
		if target != "" && row.Key.Target != target {
			continue
		}
		if filter == nil || filter(row) {
			out = append(out, row)
		}
	}
	return out
}

// --- sources ---

func (s *memStore) UpsertSource(row SourceRow) {
	s.lock()
	defer s.unlock()
	s.sources[row.Target] = row
	if s.mirror != nil {
		_ = s.mirror.putSource(row)
	}
}

func (s *memStore) DeleteSource(target string) {
	s.lock()
	defer s.unlock()
	delete(s.sources, target)
	if s.mirror != nil {
		_ = s.mirror.deleteSource(target)
	}
}

func (s *memStore) GetSource(target string) (SourceRow, bool) {
	s.lock()
	defer s.unlock()
	row, ok := s.sources[target]
	return row, ok
}

func (s *memStore) ListSources() []SourceRow {
	s.lock()
	defer s.unlock()
	out := make([]SourceRow, 0, len(s.sources))
	for _, row := range s.sources {
		out = append(out, row)
	}
	return out
}

// --- per-target flush ---

func (s *memStore) Flush(target string) {
	defer s.writeLock()()
	for k := range s.interfaces {
		if k.Target == target {
			delete(s.interfaces, k)
		}
	}
	for k := range s.bridge {
		if k.Target == target {
			delete(s.bridge, k)
		}
	}
	for k := range s.vlan {
		if k.Target == target {
			delete(s.vlan, k)
		}
	}
	for k := range s.addresses {
		if k.Target == target {
			delete(s.addresses, k)
		}
	}
	for k := range s.routes {
		if k.Target == target {
			delete(s.routes, k)
		}
	}
	for k := range s.neighbours {
		if k.Target == target {
			delete(s.neighbours, k)
		}
	}
	for k := range s.rules {
		if k.Target == target {
			delete(s.rules, k)
		}
	}
}

// --- snapshots ---

func (s *memStore) PutSnapshot(ctxid, table string, row any) {
	s.lock()
	defer s.unlock()
	s.snapshots[ctxid] = append(s.snapshots[ctxid], SnapshotRow{CtxID: ctxid, Table: table, Row: row})
}

func (s *memStore) GetSnapshots(ctxid string) []SnapshotRow {
	s.lock()
	defer s.unlock()
	out := make([]SnapshotRow, len(s.snapshots[ctxid]))
	copy(out, s.snapshots[ctxid])
	return out
}

func (s *memStore) DeleteSnapshots(ctxid string) {
	s.lock()
	defer s.unlock()
	delete(s.snapshots, ctxid)
}

// --- read/write gates ---

func (s *memStore) AllowRead(target string, allow bool) {
	s.gateMu.Lock()
	s.readGates[target] = allow
	s.gateMu.Unlock()
	s.gateCond.Broadcast()
}

func (s *memStore) WaitRead(target string) {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	for allowed, set := s.readGates[target]; set && !allowed; allowed, set = s.readGates[target] {
		s.gateCond.Wait()
	}
}

func (s *memStore) AllowWrite(allow bool) {
	s.gateMu.Lock()
	s.writeGate = allow
	s.gateMu.Unlock()
	s.gateCond.Broadcast()
}

func (s *memStore) WaitWrite() {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	for !s.writeGate {
		s.gateCond.Wait()
	}
}

// --- coarse lock for snapshot dependency collection ---

func (s *memStore) DBLock() func() {
	s.snapMu.Lock()
	return s.snapMu.Unlock
}

func (s *memStore) Close() error {
	if s.mirror != nil {
		return s.mirror.close()
	}
	return nil
}
