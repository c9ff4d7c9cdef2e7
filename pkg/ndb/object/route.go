package object

import (
	"fmt"
	"net"

	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// RouteSpec is the routes table's Spec.
type RouteSpec struct{}

func (RouteSpec) Table() string { return "routes" }
func (RouteSpec) Family() rtnl.Family { return rtnl.FamilyRoute }

func (RouteSpec) CompleteKey(_ store.Store, target string, in any) (any, error) {
	switch v := in.(type) {
	case store.RouteKey:
		return v, nil
	case string:
		// A route's scalar form is the
		// destination prefix, against RT_TABLE_MAIN unless overridden by
		// a later dict-form Set.
		key := store.RouteKey{Target: target, Table: 254}
		ip, ipnet, err := net.ParseCIDR(v)
		if err != nil {
			ip = net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("ndb: routes: cannot complete key from %q", v)
			}
		} else {
			ones, _ := ipnet.Mask.Size()
			key.DstLen = ones
		}
		key.Dst = ip.String()
		if ip.To4() != nil {
			key.Family = 2 // AF_INET
		} else {
			key.Family = 10 // AF_INET6
		}
		return key, nil
	case map[string]any:
		key := store.RouteKey{Target: target, Table: 254} // RT_TABLE_MAIN
		if fam, ok := v["family"].(int); ok {
			key.Family = fam
		}
		if dst, ok := v["dst"].(string); ok {
			key.Dst = dst
		}
		if dl, ok := v["dst_len"].(int); ok {
			key.DstLen = dl
		}
		if tbl, ok := v["table"].(int); ok {
			key.Table = tbl
		}
		if pr, ok := v["priority"].(int); ok {
			key.Priority = pr
		}
		if tos, ok := v["tos"].(int); ok {
			key.Tos = tos
		}
		return key, nil
	default:
		return nil, fmt.Errorf("ndb: routes: cannot complete key from %T", in)
	}
}

func (RouteSpec) Load(s store.Store, key any) (map[string]any, bool) {
	row, ok := s.GetRoute(key.(store.RouteKey))
	if !ok {
		return nil, false
	}
	return routeRowToMap(row), true
}

func routeRowToMap(row store.RouteRow) map[string]any {
	return map[string]any{
		"target":   row.Key.Target,
		"family":   row.Key.Family,
		"dst":      row.Key.Dst,
		"dst_len":  row.Key.DstLen,
		"table":    row.Key.Table,
		"priority": row.Key.Priority,
		"tos":      row.Key.Tos,
		"oif":      row.OIF,
		"gateway":  row.Gateway,
	}
}

func (RouteSpec) MakeReq(action rtnl.Action, key any, merged map[string]any, _ State) rtnl.Request {
	k := key.(store.RouteKey)
	req := rtnl.Request{
		Family: rtnl.FamilyRoute,
		Action: action,
		Header: map[string]int64{
			"family":   int64(k.Family),
			"dst_len":  int64(k.DstLen),
			"src_len":  0,
			"tos":      int64(k.Tos),
			"table":    int64(k.Table),
			"protocol": 0,
			"scope":    0,
			"rtm_type": 1, // RTN_UNICAST
		},
		Attrs: rtnl.Attrs{},
	}
	if k.Dst != "" {
		req.Attrs[rtnl.RTA_DST] = k.Dst
	}
	if oif, ok := merged["oif"].(int); ok && oif != 0 {
		req.Attrs[rtnl.RTA_OIF] = int64(oif)
	}
	if gw, ok := merged["gateway"].(string); ok && gw != "" {
		req.Attrs[rtnl.RTA_GATEWAY] = gw
	}
	if k.Priority != 0 {
		req.Attrs[rtnl.RTA_PRIORITY] = int64(k.Priority)
	}
	return req
}

func (RouteSpec) Dependents(store.Store, any) []Dependent { return nil }

func (RouteSpec) KeyString(key any) string {
	k := key.(store.RouteKey)
	return fmt.Sprintf("%s/%d/%s/%d/%d/%d/%d", k.Target, k.Family, k.Dst, k.DstLen, k.Table, k.Priority, k.Tos)
}

func (RouteSpec) List(s store.Store, target string, constraints map[string]any) []map[string]any {
	rows := s.ListRoutes(target, func(r store.RouteRow) bool {
		return matchConstraints(routeRowToMap(r), constraints)
	})
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = routeRowToMap(r)
	}
	return out
}

func (RouteSpec) NaturalKey(target string, row map[string]any) any {
	return store.RouteKey{
		Target:   target,
		Family:   valueOrZero(row["family"]),
		Dst:      fmt.Sprint(row["dst"]),
		DstLen:   valueOrZero(row["dst_len"]),
		Table:    valueOrZero(row["table"]),
		Priority: valueOrZero(row["priority"]),
		Tos:      valueOrZero(row["tos"]),
	}
}
