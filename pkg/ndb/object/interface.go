package object

import (
	"fmt"
	"net"

	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// InterfaceSpec is the interfaces table's Spec: it is the
// one table whose request building and dependency collection differ from the
// generic case.
type InterfaceSpec struct{}

func (InterfaceSpec) Table() string { return "interfaces" }
func (InterfaceSpec) Family() rtnl.Family { return rtnl.FamilyLink }

func (InterfaceSpec) CompleteKey(s store.Store, target string, in any) (any, error) {
	switch v := in.(type) {
	case store.InterfaceKey:
		return v, nil
	case int:
		return store.InterfaceKey{Target: target, Index: v}, nil
	case string:
		// An "eth0" scalar: resolve the name against the
		// store. Index stays 0 if the interface doesn't exist yet (e.g.
		// the kernel hasn't assigned one), the same as the not-yet-loaded
		// case for any other key form.
		if row, ok := s.GetInterfaceByName(target, v); ok {
			return row.Key, nil
		}
		return store.InterfaceKey{Target: target, Index: 0}, nil
	case map[string]any:
		if idx, ok := v["index"].(int); ok {
			return store.InterfaceKey{Target: target, Index: idx}, nil
		}
		return store.InterfaceKey{Target: target, Index: 0}, nil
	default:
		return nil, fmt.Errorf("ndb: interfaces: cannot complete key from %T", in)
	}
}

func (InterfaceSpec) Load(s store.Store, key any) (map[string]any, bool) {
	row, ok := s.GetInterface(key.(store.InterfaceKey))
	if !ok {
		return nil, false
	}
	return interfaceRowToMap(row), true
}

func interfaceRowToMap(r store.InterfaceRow) map[string]any {
	return map[string]any{
		"target":            r.Key.Target,
		"index":             r.Key.Index,
		"ifname":            r.IfName,
		"address":           r.Address,
		"flags":             r.Flags,
		"state":             r.State(),
		"kind":              r.Kind,
		"master":            r.Master,
		"link":              r.Link,
		"vlan_id":           r.VlanID,
		"vlan_protocol":     r.VlanProtocol,
		"br_stp_state":      r.BrSTPState,
		"br_vlan_filtering": r.BrVlanFiltering,
		"vxlan_id":          r.VxlanID,
		"vxlan_group":       r.VxlanGroup,
		"vxlan_local":       r.VxlanLocal,
		"vrf_table":         r.VrfTable,
	}
}

// ifflagsForState translates the "up"/"down" state
// strings into the IFF_UP bit of the ifinfmsg flags/change pair: flags
// carries the bit's intended value, change carries which bits this
// request actually touches (0 leaves the kernel's current flags alone).
const ifiIFFUp = 0x1

func ifflagsForState(state string) (flags, change int64) {
	switch state {
	case "up":
		return ifiIFFUp, ifiIFFUp
	case "down":
		return 0, ifiIFFUp
	default:
		return 0, 0
	}
}

func (InterfaceSpec) MakeReq(action rtnl.Action, key any, merged map[string]any, priorState State) rtnl.Request {
	k := key.(store.InterfaceKey)
	flags, change := ifflagsForState(fmt.Sprint(merged["state"]))
	req := rtnl.Request{
		Family: rtnl.FamilyLink,
		Action: action,
		Header: map[string]int64{
			"family": 0,
			"index":  int64(k.Index),
			"flags":  flags,
			"change": change,
		},
		Attrs: rtnl.Attrs{},
	}
	if ifname, ok := merged["ifname"].(string); ok && ifname != "" {
		req.Attrs[rtnl.IFLA_IFNAME] = ifname
	}
	if addr, ok := merged["address"].(string); ok && addr != "" {
		if mac, err := net.ParseMAC(addr); err == nil {
			req.Attrs[rtnl.IFLA_ADDRESS] = []byte(mac)
		}
	}
	if link, ok := merged["link"].(int); ok && link != 0 {
		req.Attrs[rtnl.IFLA_LINK] = int64(link)
	}
	if kind, ok := merged["kind"].(string); ok && kind != "" && action == rtnl.ActionNew {
		vlanID, _ := merged["vlan_id"].(int)
		if info, err := rtnl.EncodeLinkInfo(kind, vlanID); err == nil {
			req.Attrs[rtnl.IFLA_LINKINFO] = info
		}
	}
	// An already-system interface keeps its master across an update, so
	// the request re-states it; a snapshot replay needs the same
	// treatment, or a restored bridge port never reattaches.
	if priorState == StateSystem || priorState == StateSnapshot {
		if master, ok := merged["master"].(int); ok {
			req.Attrs[rtnl.IFLA_MASTER] = int64(master)
		}
	}
	return req
}

// Dependents collects bridge ports (IFLA_MASTER == index), VLAN children
// (IFLA_LINK == index, kind=vlan), and the interface's own addresses and
// routes: every row that references the interface by
// foreign key. Without the latter two, cascadeDeleteInterface's removal
// of an interface's addresses/routes on DEL would have nothing to restore
// on rollback.
func (InterfaceSpec) Dependents(s store.Store, key any) []Dependent {
	k := key.(store.InterfaceKey)
	var deps []Dependent
	for _, row := range s.ListInterfaces(k.Target, func(r store.InterfaceRow) bool {
		return r.Master == k.Index
	}) {
		deps = append(deps, Dependent{Spec: InterfaceSpec{}, Key: row.Key})
	}
	for _, row := range s.ListInterfaces(k.Target, func(r store.InterfaceRow) bool {
		return r.Link == k.Index && r.Kind == "vlan"
	}) {
		deps = append(deps, Dependent{Spec: InterfaceSpec{}, Key: row.Key})
	}
	for _, row := range s.ListAddresses(k.Target, func(r store.AddressRow) bool {
		return r.Key.Index == k.Index
	}) {
		deps = append(deps, Dependent{Spec: AddressSpec{}, Key: row.Key})
	}
	for _, row := range s.ListRoutes(k.Target, func(r store.RouteRow) bool {
		return r.OIF == k.Index
	}) {
		deps = append(deps, Dependent{Spec: RouteSpec{}, Key: row.Key})
	}
	return deps
}

func (InterfaceSpec) KeyString(key any) string {
	k := key.(store.InterfaceKey)
	return fmt.Sprintf("%s/%d", k.Target, k.Index)
}

func (InterfaceSpec) List(s store.Store, target string, constraints map[string]any) []map[string]any {
	rows := s.ListInterfaces(target, func(r store.InterfaceRow) bool {
		return matchConstraints(interfaceRowToMap(r), constraints)
	})
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = interfaceRowToMap(r)
	}
	return out
}

func (InterfaceSpec) NaturalKey(target string, row map[string]any) any {
	return store.InterfaceKey{Target: target, Index: valueOrZero(row["index"])}
}

// matchConstraints reports whether row satisfies every sticky filter.
// Shared by every Spec's List.
func matchConstraints(row map[string]any, constraints map[string]any) bool {
	for k, want := range constraints {
		if got, ok := row[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// BridgeMirrorSpec and VlanMirrorSpec read the bridge/vlan mirror tables
// DBM maintains alongside interfaces (the rows whose kind is bridge or
// vlan). Everything but listing delegates
// to InterfaceSpec, since writes to a bridge or vlan row still go through
// the interfaces table.
type BridgeMirrorSpec struct{ InterfaceSpec }

func (BridgeMirrorSpec) Table() string { return "bridge" }

func (BridgeMirrorSpec) List(s store.Store, target string, constraints map[string]any) []map[string]any {
	rows := s.ListBridge(target)
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		m := interfaceRowToMap(r)
		if matchConstraints(m, constraints) {
			out = append(out, m)
		}
	}
	return out
}

type VlanMirrorSpec struct{ InterfaceSpec }

func (VlanMirrorSpec) Table() string { return "vlan" }

func (VlanMirrorSpec) List(s store.Store, target string, constraints map[string]any) []map[string]any {
	rows := s.ListVlan(target)
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		m := interfaceRowToMap(r)
		if matchConstraints(m, constraints) {
			out = append(out, m)
		}
	}
	return out
}
