package object

import (
	"fmt"
	"net"

	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// AddressSpec is the addresses table's Spec: no request override, no
// dependents.
type AddressSpec struct{}

func (AddressSpec) Table() string { return "addresses" }
func (AddressSpec) Family() rtnl.Family { return rtnl.FamilyAddr }

func (AddressSpec) CompleteKey(_ store.Store, target string, in any) (any, error) {
	switch v := in.(type) {
	case store.AddressKey:
		return v, nil
	case string:
		// A "10.0.0.1/24" scalar: parse the CIDR form into
		// address/prefixlen/family. The owning interface's index is not
		// encoded in the scalar itself and must come from a dict or a
		// view already scoped to one interface.
		key := store.AddressKey{Target: target}
		ip, ipnet, err := net.ParseCIDR(v)
		if err != nil {
			ip = net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("ndb: addresses: cannot complete key from %q", v)
			}
		} else {
			ones, _ := ipnet.Mask.Size()
			key.PrefixLen = ones
		}
		key.Address = ip.String()
		if ip.To4() != nil {
			key.Family = 2 // AF_INET
		} else {
			key.Family = 10 // AF_INET6
		}
		return key, nil
	case map[string]any:
		key := store.AddressKey{Target: target}
		if idx, ok := v["index"].(int); ok {
			key.Index = idx
		}
		if addr, ok := v["address"].(string); ok {
			key.Address = addr
		}
		if pl, ok := v["prefixlen"].(int); ok {
			key.PrefixLen = pl
		}
		if fam, ok := v["family"].(int); ok {
			key.Family = fam
		}
		return key, nil
	default:
		return nil, fmt.Errorf("ndb: addresses: cannot complete key from %T", in)
	}
}

func (AddressSpec) Load(s store.Store, key any) (map[string]any, bool) {
	row, ok := s.GetAddress(key.(store.AddressKey))
	if !ok {
		return nil, false
	}
	return addressRowToMap(row), true
}

func (AddressSpec) MakeReq(action rtnl.Action, key any, merged map[string]any, _ State) rtnl.Request {
	k := key.(store.AddressKey)
	req := rtnl.Request{
		Family: rtnl.FamilyAddr,
		Action: action,
		Header: map[string]int64{
			"family":    int64(k.Family),
			"prefixlen": int64(k.PrefixLen),
			"scope":     int64(valueOrZero(merged["scope"])),
			"index":     int64(k.Index),
		},
		Attrs: rtnl.Attrs{rtnl.IFA_ADDRESS: k.Address, rtnl.IFA_LOCAL: k.Address},
	}
	return req
}

func (AddressSpec) Dependents(store.Store, any) []Dependent { return nil }

func (AddressSpec) KeyString(key any) string {
	k := key.(store.AddressKey)
	return fmt.Sprintf("%s/%d/%s/%d", k.Target, k.Index, k.Address, k.PrefixLen)
}

func (AddressSpec) List(s store.Store, target string, constraints map[string]any) []map[string]any {
	rows := s.ListAddresses(target, func(r store.AddressRow) bool {
		return matchConstraints(addressRowToMap(r), constraints)
	})
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = addressRowToMap(r)
	}
	return out
}

func addressRowToMap(row store.AddressRow) map[string]any {
	return map[string]any{
		"target":    row.Key.Target,
		"index":     row.Key.Index,
		"address":   row.Key.Address,
		"prefixlen": row.Key.PrefixLen,
		"family":    row.Key.Family,
		"scope":     row.Scope,
	}
}

func (AddressSpec) NaturalKey(target string, row map[string]any) any {
	return store.AddressKey{
		Target:    target,
		Index:     valueOrZero(row["index"]),
		Address:   fmt.Sprint(row["address"]),
		PrefixLen: valueOrZero(row["prefixlen"]),
		Family:    valueOrZero(row["family"]),
	}
}

func valueOrZero(v any) int {
	if i, ok := v.(int); ok {
		return i
	}
	return 0
}
