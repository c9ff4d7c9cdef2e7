// Package dbm implements the Database Manager (C3): the single dedicated
// goroutine that drains the event queue and writes every kernel-derived
// row of the store: a long-running
// goroutine selecting on a channel until told to stop,
// driven by arriving events rather
// than a fixed interval.
package dbm

import (
	"net"

	"github.com/mdlayher/netlink"
	"github.com/rs/zerolog"

	"github.com/cuemby/ndb/pkg/metrics"
	"github.com/cuemby/ndb/pkg/ndb/notify"
	"github.com/cuemby/ndb/pkg/ndb/object"
	"github.com/cuemby/ndb/pkg/ndb/queue"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// Manager is the Database Manager: it owns the only mutable handle to the
// store.
type Manager struct {
	q      *queue.Queue
	st     store.Store
	broker *notify.Broker
	log    zerolog.Logger

	doneCh chan struct{}
}

// New builds a Manager. Start must be called to begin its dispatch loop.
func New(q *queue.Queue, st store.Store, broker *notify.Broker, log zerolog.Logger) *Manager {
	return &Manager{
		q:      q,
		st:     st,
		broker: broker,
		log:    log.With().Str("component", "dbm").Logger(),
		doneCh: make(chan struct{}),
	}
}

// Start launches the dispatch loop, the single dedicated goroutine
// consuming the queue.
func (m *Manager) Start() {
	go m.run()
}

// Stop enqueues a Shutdown sentinel and blocks until the loop has
// observed it and exited.
func (m *Manager) Stop() {
	m.q.Put("", queue.Shutdown{})
	<-m.doneCh
}

func (m *Manager) run() {
	defer close(m.doneCh)
	m.log.Info().Msg("database manager started")
	for batch := range m.q.Chan() {
		for _, ev := range batch.Events {
			if !m.dispatch(batch.Target, ev) {
				m.log.Info().Msg("database manager stopped")
				return
			}
		}
	}
}

// dispatch applies one event and reports whether the loop should
// continue.
func (m *Manager) dispatch(target string, ev queue.Event) bool {
	switch e := ev.(type) {
	case rtnl.Msg:
		m.applyMsg(target, e)
		return true

	case queue.SyncStart:
		if e.Done != nil {
			close(e.Done)
		}
		return true

	case queue.WaitEvent:
		if e.Done != nil {
			close(e.Done)
		}
		return true

	case queue.SchemaReadLock:
		m.st.AllowRead(e.Target, false)
		return true

	case queue.SchemaReadUnlock:
		m.st.AllowRead(e.Target, true)
		return true

	case queue.MarkFailed:
		m.markFailed(target)
		return true

	case queue.FlushTarget:
		m.st.Flush(target)
		return true

	case queue.SetTflag:
		m.setTflag(e)
		return true

	case queue.ErrEvent:
		m.log.Error().Err(e.Err).Msg("terminating on propagated source error")
		return false

	case queue.Shutdown:
		return false

	default:
		m.log.Warn().Str("target", target).Msgf("unknown event type %T, dropping", ev)
		return true
	}
}

// tableForFamily names the table a given rtnl family dispatches into. It
// supplies the metrics label, and applyMsg drops any message for which it
// returns "unknown".
func tableForFamily(family rtnl.Family) string {
	switch family {
	case rtnl.FamilyLink:
		return "interfaces"
	case rtnl.FamilyAddr:
		return "addresses"
	case rtnl.FamilyRoute:
		return "routes"
	case rtnl.FamilyNeigh:
		return "neighbours"
	case rtnl.FamilyRule:
		return "rules"
	default:
		return "unknown"
	}
}

func actionName(a rtnl.Action) string {
	switch a {
	case rtnl.ActionNew:
		return "new"
	case rtnl.ActionDel:
		return "del"
	case rtnl.ActionSet:
		return "set"
	case rtnl.ActionGet:
		return "get"
	default:
		return "unknown"
	}
}

func (m *Manager) applyMsg(target string, msg rtnl.Msg) {
	table := tableForFamily(msg.Family)
	if table == "unknown" {
		m.log.Debug().Str("target", target).Int("family", int(msg.Family)).Msg("unhandled family, dropping")
		metrics.EventsDroppedTotal.WithLabelValues("unknown").Inc()
		return
	}

	timer := metrics.NewTimer()
	switch msg.Family {
	case rtnl.FamilyLink:
		m.applyLink(target, msg)
	case rtnl.FamilyAddr:
		m.applyAddr(target, msg)
	case rtnl.FamilyRoute:
		m.applyRoute(target, msg)
	case rtnl.FamilyNeigh:
		m.applyNeigh(target, msg)
	case rtnl.FamilyRule:
		m.applyRule(target, msg)
	}
	timer.ObserveDurationVec(metrics.DispatchDuration, table)
	metrics.EventsDispatchedTotal.WithLabelValues(table, actionName(msg.Action)).Inc()
}

func (m *Manager) publish(table, target, key string, kind notify.Kind, row map[string]any) {
	m.broker.Publish(notify.Change{Table: table, Target: target, Key: key, Kind: kind, Row: row})
}

// --- interfaces (ifinfmsg NEW/SET/DEL) ---

func (m *Manager) applyLink(target string, msg rtnl.Msg) {
	key := store.InterfaceKey{Target: target, Index: int(msg.Header["index"])}

	if msg.Action == rtnl.ActionDel {
		row, ok := m.st.DeleteInterface(key)
		if !ok {
			return
		}
		switch row.Kind {
		case "bridge":
			m.st.DeleteBridgeMirror(key)
		case "vlan":
			m.st.DeleteVlanMirror(key)
		}
		m.cascadeDeleteInterface(target, key.Index)
		m.publish("interfaces", target, object.InterfaceSpec{}.KeyString(key), notify.Deleted, nil)
		return
	}

	row, existed := m.st.GetInterface(key)
	row.Key = key
	row.Flags = int(msg.Header["flags"])
	if name, ok := msg.Attrs[rtnl.IFLA_IFNAME].(string); ok {
		row.IfName = name
	}
	if raw, ok := msg.Attrs[rtnl.IFLA_ADDRESS].([]byte); ok {
		row.Address = net.HardwareAddr(raw).String()
	}
	if v, ok := msg.Attrs[rtnl.IFLA_MASTER]; ok {
		row.Master = toInt(v)
	} else if !existed {
		row.Master = 0
	}
	if v, ok := msg.Attrs[rtnl.IFLA_LINK]; ok {
		row.Link = toInt(v)
	}
	if raw, ok := msg.Attrs[rtnl.IFLA_LINKINFO].([]byte); ok {
		decodeLinkInfo(raw, &row)
	}

	m.st.UpsertInterface(row)
	switch row.Kind {
	case "bridge":
		m.st.UpsertBridgeMirror(row)
	case "vlan":
		m.st.UpsertVlanMirror(row)
	}
	m.publish("interfaces", target, object.InterfaceSpec{}.KeyString(key), notify.Upserted, interfaceChangeRow(row))
}

// cascadeDeleteInterface removes every row that logically references a
// removed interface. Foreign references are logical; cascades are
// implemented here, not by the store engine.
func (m *Manager) cascadeDeleteInterface(target string, index int) {
	for _, a := range m.st.ListAddresses(target, func(r store.AddressRow) bool { return r.Key.Index == index }) {
		if _, ok := m.st.DeleteAddress(a.Key); ok {
			m.publish("addresses", target, object.AddressSpec{}.KeyString(a.Key), notify.Deleted, nil)
		}
	}
	for _, r := range m.st.ListRoutes(target, func(r store.RouteRow) bool { return r.OIF == index }) {
		if _, ok := m.st.DeleteRoute(r.Key); ok {
			m.publish("routes", target, object.RouteSpec{}.KeyString(r.Key), notify.Deleted, nil)
		}
	}
	for _, n := range m.st.ListNeighbours(target, func(r store.NeighRow) bool { return r.Key.IfIndex == index }) {
		if _, ok := m.st.DeleteNeighbour(n.Key); ok {
			m.publish("neighbours", target, object.NeighSpec{}.KeyString(n.Key), notify.Deleted, nil)
		}
	}
}

func interfaceChangeRow(r store.InterfaceRow) map[string]any {
	return map[string]any{
		"target": r.Key.Target,
		"index":  r.Key.Index,
		"ifname": r.IfName,
		"state":  r.State(),
		"kind":   r.Kind,
		"master": r.Master,
		"link":   r.Link,
	}
}

// decodeLinkInfo walks the nested IFLA_LINKINFO attribute (kernel's
// rtnl_link_ops encoding: IFLA_INFO_KIND names the driver, IFLA_INFO_DATA
// nests the kind-specific attributes) into row's kind-specific fields.
func decodeLinkInfo(raw []byte, row *store.InterfaceRow) {
	ad, err := netlink.NewAttributeDecoder(raw)
	if err != nil {
		return
	}
	for ad.Next() {
		switch ad.Type() {
		case rtnl.IFLA_INFO_KIND:
			row.Kind = ad.String()
		case rtnl.IFLA_INFO_DATA:
			decodeLinkInfoData(ad.Bytes(), row)
		}
	}
}

func decodeLinkInfoData(raw []byte, row *store.InterfaceRow) {
	ad, err := netlink.NewAttributeDecoder(raw)
	if err != nil {
		return
	}
	for ad.Next() {
		switch row.Kind {
		case "vlan":
			switch ad.Type() {
			case rtnl.IFLA_VLAN_ID:
				row.VlanID = int(ad.Uint16())
			case rtnl.IFLA_VLAN_PROTOCOL:
				row.VlanProtocol = net.IP(ad.Bytes()).String()
			}
		case "bridge":
			switch ad.Type() {
			case rtnl.IFLA_BR_STP_STATE:
				row.BrSTPState = int(ad.Uint32())
			case rtnl.IFLA_BR_VLAN_FILTERING:
				row.BrVlanFiltering = ad.Uint8() != 0
			}
		case "vxlan":
			switch ad.Type() {
			case rtnl.IFLA_VXLAN_ID:
				row.VxlanID = int(ad.Uint32())
			case rtnl.IFLA_VXLAN_GROUP:
				row.VxlanGroup = net.IP(ad.Bytes()).String()
			case rtnl.IFLA_VXLAN_LINK:
				row.Link = int(ad.Uint32())
			case rtnl.IFLA_VXLAN_LOCAL:
				row.VxlanLocal = net.IP(ad.Bytes()).String()
			}
		case "vrf":
			if ad.Type() == rtnl.IFLA_VRF_TABLE {
				row.VrfTable = int(ad.Uint32())
			}
		}
	}
}

// --- addresses (ifaddrmsg NEW/DEL) ---

func (m *Manager) applyAddr(target string, msg rtnl.Msg) {
	addr, _ := msg.Attrs[rtnl.IFA_LOCAL].(string)
	if addr == "" {
		addr, _ = msg.Attrs[rtnl.IFA_ADDRESS].(string)
	}
	key := store.AddressKey{
		Target:    target,
		Index:     int(msg.Header["index"]),
		Address:   addr,
		PrefixLen: int(msg.Header["prefixlen"]),
		Family:    int(msg.Header["family"]),
	}

	if msg.Action == rtnl.ActionDel {
		if _, ok := m.st.DeleteAddress(key); ok {
			m.publish("addresses", target, object.AddressSpec{}.KeyString(key), notify.Deleted, nil)
		}
		return
	}

	row := store.AddressRow{Key: key, Scope: int(msg.Header["scope"])}
	m.st.UpsertAddress(row)
	m.publish("addresses", target, object.AddressSpec{}.KeyString(key), notify.Upserted, map[string]any{
		"target": target, "index": key.Index, "address": key.Address,
		"prefixlen": key.PrefixLen, "family": key.Family, "scope": row.Scope,
	})
}

// --- routes (rtmsg NEW/DEL) ---

func (m *Manager) applyRoute(target string, msg rtnl.Msg) {
	dst, _ := msg.Attrs[rtnl.RTA_DST].(string)
	key := store.RouteKey{
		Target:   target,
		Family:   int(msg.Header["family"]),
		Dst:      dst,
		DstLen:   int(msg.Header["dst_len"]),
		Table:    int(msg.Header["table"]),
		Priority: toInt(msg.Attrs[rtnl.RTA_PRIORITY]),
		Tos:      int(msg.Header["tos"]),
	}

	if msg.Action == rtnl.ActionDel {
		if _, ok := m.st.DeleteRoute(key); ok {
			m.publish("routes", target, object.RouteSpec{}.KeyString(key), notify.Deleted, nil)
		}
		return
	}

	row := store.RouteRow{Key: key, OIF: toInt(msg.Attrs[rtnl.RTA_OIF])}
	if gw, ok := msg.Attrs[rtnl.RTA_GATEWAY].(string); ok {
		row.Gateway = gw
	}
	if raw, ok := msg.Attrs[rtnl.RTA_MULTIPATH].([]byte); ok {
		row.Multipath = decodeMultipath(raw)
	}
	m.st.UpsertRoute(row)
	m.publish("routes", target, object.RouteSpec{}.KeyString(key), notify.Upserted, map[string]any{
		"target": target, "family": key.Family, "dst": key.Dst, "dst_len": key.DstLen,
		"table": key.Table, "priority": key.Priority, "tos": key.Tos,
		"oif": row.OIF, "gateway": row.Gateway,
	})
}

// decodeMultipath walks a RTA_MULTIPATH attribute's rtnexthop list (kernel
// uapi struct rtnexthop: rtnh_len(2) rtnh_flags(1) rtnh_hops(1)
// rtnh_ifindex(4), followed by rtnh_len-8 bytes of nested attributes).
func decodeMultipath(data []byte) []store.Nexthop {
	var hops []store.Nexthop
	for len(data) >= 8 {
		rtnhLen := int(data[0]) | int(data[1])<<8
		if rtnhLen < 8 || rtnhLen > len(data) {
			break
		}
		ifindex := int(int32(data[4]) | int32(data[5])<<8 | int32(data[6])<<16 | int32(data[7])<<24)
		nh := store.Nexthop{IfIndex: ifindex}
		if rtnhLen > 8 {
			if ad, err := netlink.NewAttributeDecoder(data[8:rtnhLen]); err == nil {
				for ad.Next() {
					if ad.Type() == rtnl.RTA_GATEWAY {
						nh.Gateway = net.IP(ad.Bytes()).String()
					}
				}
			}
		}
		hops = append(hops, nh)
		data = data[rtnhLen:]
	}
	return hops
}

// --- neighbours (ndmsg NEW/DEL) ---

func (m *Manager) applyNeigh(target string, msg rtnl.Msg) {
	dst, _ := msg.Attrs[rtnl.NDA_DST].(string)
	key := store.NeighKey{
		Target:  target,
		IfIndex: int(msg.Header["ifindex"]),
		Dst:     dst,
		Family:  int(msg.Header["family"]),
	}

	if msg.Action == rtnl.ActionDel {
		if _, ok := m.st.DeleteNeighbour(key); ok {
			m.publish("neighbours", target, object.NeighSpec{}.KeyString(key), notify.Deleted, nil)
		}
		return
	}

	row := store.NeighRow{Key: key, State: int(msg.Header["state"])}
	if raw, ok := msg.Attrs[rtnl.NDA_LLADDR].([]byte); ok {
		row.LLAddr = net.HardwareAddr(raw).String()
	}
	m.st.UpsertNeighbour(row)
	m.publish("neighbours", target, object.NeighSpec{}.KeyString(key), notify.Upserted, map[string]any{
		"target": target, "ifindex": key.IfIndex, "dst": key.Dst, "family": key.Family,
		"lladdr": row.LLAddr, "state": row.State,
	})
}

// --- rules (fibmsg NEW/DEL) ---

func (m *Manager) applyRule(target string, msg rtnl.Msg) {
	src, _ := msg.Attrs[rtnl.FRA_SRC].(string)
	dst, _ := msg.Attrs[rtnl.FRA_DST].(string)
	key := store.RuleKey{
		Target:   target,
		Family:   int(msg.Header["family"]),
		Priority: toInt(msg.Attrs[rtnl.FRA_PRIORITY]),
		Table:    toInt(msg.Attrs[rtnl.FRA_TABLE]),
		Src:      src,
		SrcLen:   int(msg.Header["src_len"]),
		Dst:      dst,
		DstLen:   int(msg.Header["dst_len"]),
	}
	if key.Table == 0 {
		key.Table = int(msg.Header["table"])
	}

	if msg.Action == rtnl.ActionDel {
		if _, ok := m.st.DeleteRule(key); ok {
			m.publish("rules", target, object.RuleSpec{}.KeyString(key), notify.Deleted, nil)
		}
		return
	}

	row := store.RuleRow{Key: key, Action: int(msg.Header["rtm_type"])}
	m.st.UpsertRule(row)
	m.publish("rules", target, object.RuleSpec{}.KeyString(key), notify.Upserted, map[string]any{
		"target": target, "family": key.Family, "priority": key.Priority, "table": key.Table,
		"src": key.Src, "dst": key.Dst, "action": row.Action,
	})
}

// markFailed tombstones every row belonging to a failed source's target,
// rather than flushing them outright, so a view can still report the
// last-known state while distinguishing it as stale.
func (m *Manager) markFailed(target string) {
	for _, row := range m.st.ListInterfaces(target, nil) {
		row.FTflags |= store.FTFlagStale
		m.st.UpsertInterface(row)
	}
	for _, row := range m.st.ListAddresses(target, nil) {
		row.FTflags |= store.FTFlagStale
		m.st.UpsertAddress(row)
	}
	for _, row := range m.st.ListRoutes(target, nil) {
		row.FTflags |= store.FTFlagStale
		m.st.UpsertRoute(row)
	}
	for _, row := range m.st.ListNeighbours(target, nil) {
		row.FTflags |= store.FTFlagStale
		m.st.UpsertNeighbour(row)
	}
	for _, row := range m.st.ListRules(target, nil) {
		row.FTflags |= store.FTFlagStale
		m.st.UpsertRule(row)
	}
	m.log.Warn().Str("target", target).Msg("source failed, rows marked stale")
}

// setTflag toggles one f_tflags bit on the row named by e, then runs
// propagateTflags so a dependent row's flag walks to its owning
// Interface. It never
// publishes a notify.Change: a Commit's echo-wait only ever matches on
// the Upserted/Deleted event the kernel's own confirmation produces, and
// a flag-only mutation must not be mistaken for that confirmation.
func (m *Manager) setTflag(e queue.SetTflag) {
	switch e.Table {
	case "interfaces":
		key := e.Key.(store.InterfaceKey)
		if row, ok := m.st.GetInterface(key); ok {
			row.FTflags = setFlagBit(row.FTflags, e.Flag, e.On)
			m.st.UpsertInterface(row)
		}

	case "addresses":
		key := e.Key.(store.AddressKey)
		if row, ok := m.st.GetAddress(key); ok {
			row.FTflags = setFlagBit(row.FTflags, e.Flag, e.On)
			m.st.UpsertAddress(row)
			m.propagateTflags(e.Target, key.Index, e.Flag, e.On)
		}

	case "routes":
		key := e.Key.(store.RouteKey)
		if row, ok := m.st.GetRoute(key); ok {
			row.FTflags = setFlagBit(row.FTflags, e.Flag, e.On)
			m.st.UpsertRoute(row)
			m.propagateTflags(e.Target, row.OIF, e.Flag, e.On)
		}

	case "neighbours":
		key := e.Key.(store.NeighKey)
		if row, ok := m.st.GetNeighbour(key); ok {
			row.FTflags = setFlagBit(row.FTflags, e.Flag, e.On)
			m.st.UpsertNeighbour(row)
			m.propagateTflags(e.Target, key.IfIndex, e.Flag, e.On)
		}

	case "rules":
		// A fib rule has no owning Interface, so there is nothing to
		// propagate to.
		key := e.Key.(store.RuleKey)
		if row, ok := m.getRule(key); ok {
			row.FTflags = setFlagBit(row.FTflags, e.Flag, e.On)
			m.st.UpsertRule(row)
		}
	}
}

// propagateTflags mirrors a dependent row's transient flag onto its
// owning Interface, so selecting a transaction set in one table reveals
// its dependencies.
func (m *Manager) propagateTflags(target string, ifaceIndex, flag int, on bool) {
	key := store.InterfaceKey{Target: target, Index: ifaceIndex}
	row, ok := m.st.GetInterface(key)
	if !ok {
		return
	}
	row.FTflags = setFlagBit(row.FTflags, flag, on)
	m.st.UpsertInterface(row)
}

func setFlagBit(flags, bit int, on bool) int {
	if on {
		return flags | bit
	}
	return flags &^ bit
}

func (m *Manager) getRule(key store.RuleKey) (store.RuleRow, bool) {
	for _, r := range m.st.ListRules(key.Target, func(r store.RuleRow) bool { return r.Key == key }) {
		return r, true
	}
	return store.RuleRow{}, false
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case uint32:
		return int(n)
	default:
		return 0
	}
}
