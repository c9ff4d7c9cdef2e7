package object

import (
	"fmt"
	"net"

	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// NeighSpec is the neighbours table's Spec.
type NeighSpec struct{}

func (NeighSpec) Table() string { return "neighbours" }
func (NeighSpec) Family() rtnl.Family { return rtnl.FamilyNeigh }

func (NeighSpec) CompleteKey(_ store.Store, target string, in any) (any, error) {
	switch v := in.(type) {
	case store.NeighKey:
		return v, nil
	case string:
		// A neighbour's scalar is a bare destination address, no prefix
		// (an ARP/NDP entry always covers a single host).
		ip := net.ParseIP(v)
		if ip == nil {
			return nil, fmt.Errorf("ndb: neighbours: cannot complete key from %q", v)
		}
		key := store.NeighKey{Target: target, Dst: ip.String()}
		if ip.To4() != nil {
			key.Family = 2 // AF_INET
		} else {
			key.Family = 10 // AF_INET6
		}
		return key, nil
	case map[string]any:
		key := store.NeighKey{Target: target}
		if idx, ok := v["ifindex"].(int); ok {
			key.IfIndex = idx
		}
		if dst, ok := v["dst"].(string); ok {
			key.Dst = dst
		}
		if fam, ok := v["family"].(int); ok {
			key.Family = fam
		}
		return key, nil
	default:
		return nil, fmt.Errorf("ndb: neighbours: cannot complete key from %T", in)
	}
}

func (NeighSpec) Load(s store.Store, key any) (map[string]any, bool) {
	row, ok := s.GetNeighbour(key.(store.NeighKey))
	if !ok {
		return nil, false
	}
	return neighRowToMap(row), true
}

func neighRowToMap(row store.NeighRow) map[string]any {
	return map[string]any{
		"target":  row.Key.Target,
		"ifindex": row.Key.IfIndex,
		"dst":     row.Key.Dst,
		"family":  row.Key.Family,
		"lladdr":  row.LLAddr,
		"state":   row.State,
	}
}

func (NeighSpec) MakeReq(action rtnl.Action, key any, merged map[string]any, _ State) rtnl.Request {
	k := key.(store.NeighKey)
	req := rtnl.Request{
		Family: rtnl.FamilyNeigh,
		Action: action,
		Header: map[string]int64{
			"family":    int64(k.Family),
			"ifindex":   int64(k.IfIndex),
			"state":     int64(valueOrZero(merged["state"])),
			"ndm_flags": 0,
			"ndm_type":  0,
		},
		Attrs: rtnl.Attrs{rtnl.NDA_DST: k.Dst},
	}
	if lladdr, ok := merged["lladdr"].(string); ok && lladdr != "" {
		if mac, err := net.ParseMAC(lladdr); err == nil {
			req.Attrs[rtnl.NDA_LLADDR] = []byte(mac)
		}
	}
	return req
}

func (NeighSpec) Dependents(store.Store, any) []Dependent { return nil }

func (NeighSpec) KeyString(key any) string {
	k := key.(store.NeighKey)
	return fmt.Sprintf("%s/%d/%s/%d", k.Target, k.IfIndex, k.Dst, k.Family)
}

func (NeighSpec) List(s store.Store, target string, constraints map[string]any) []map[string]any {
	rows := s.ListNeighbours(target, func(r store.NeighRow) bool {
		return matchConstraints(neighRowToMap(r), constraints)
	})
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = neighRowToMap(r)
	}
	return out
}

func (NeighSpec) NaturalKey(target string, row map[string]any) any {
	return store.NeighKey{
		Target:  target,
		IfIndex: valueOrZero(row["ifindex"]),
		Dst:     fmt.Sprint(row["dst"]),
		Family:  valueOrZero(row["family"]),
	}
}
