package object

import (
	"fmt"

	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// RuleSpec is the rules (fib rules) table's Spec.
// It shares the rtmsg/fib_rule_hdr fixed layout with routes, so
// it reuses rtnl.FamilyRule for wire encoding.
type RuleSpec struct{}

func (RuleSpec) Table() string { return "rules" }
func (RuleSpec) Family() rtnl.Family { return rtnl.FamilyRule }

func (RuleSpec) CompleteKey(_ store.Store, target string, in any) (any, error) {
	switch v := in.(type) {
	case store.RuleKey:
		return v, nil
	case int:
		// A rule's scalar is its priority (`ip rule add pref N`'s N is
		// the closest thing fib rules have to a natural single-field key).
		return store.RuleKey{Target: target, Priority: v}, nil
	case map[string]any:
		key := store.RuleKey{Target: target}
		if fam, ok := v["family"].(int); ok {
			key.Family = fam
		}
		if pr, ok := v["priority"].(int); ok {
			key.Priority = pr
		}
		if tbl, ok := v["table"].(int); ok {
			key.Table = tbl
		}
		if src, ok := v["src"].(string); ok {
			key.Src = src
		}
		if sl, ok := v["src_len"].(int); ok {
			key.SrcLen = sl
		}
		if dst, ok := v["dst"].(string); ok {
			key.Dst = dst
		}
		if dl, ok := v["dst_len"].(int); ok {
			key.DstLen = dl
		}
		return key, nil
	default:
		return nil, fmt.Errorf("ndb: rules: cannot complete key from %T", in)
	}
}

func (RuleSpec) Load(s store.Store, key any) (map[string]any, bool) {
	k := key.(store.RuleKey)
	rows := s.ListRules(k.Target, func(r store.RuleRow) bool { return r.Key == k })
	if len(rows) == 0 {
		return nil, false
	}
	return ruleRowToMap(rows[0]), true
}

func ruleRowToMap(r store.RuleRow) map[string]any {
	return map[string]any{
		"target":   r.Key.Target,
		"family":   r.Key.Family,
		"priority": r.Key.Priority,
		"table":    r.Key.Table,
		"src":      r.Key.Src,
		"src_len":  r.Key.SrcLen,
		"dst":      r.Key.Dst,
		"dst_len":  r.Key.DstLen,
		"action":   r.Action,
	}
}

func (RuleSpec) MakeReq(action rtnl.Action, key any, merged map[string]any, _ State) rtnl.Request {
	k := key.(store.RuleKey)
	req := rtnl.Request{
		Family: rtnl.FamilyRule,
		Action: action,
		Header: map[string]int64{
			"family":   int64(k.Family),
			"dst_len":  int64(k.DstLen),
			"src_len":  int64(k.SrcLen),
			"tos":      0,
			"table":    int64(k.Table),
			"protocol": 0,
			"scope":    0,
			"rtm_type": int64(valueOrZero(merged["action"])),
		},
		Attrs: rtnl.Attrs{},
	}
	if k.Src != "" {
		req.Attrs[rtnl.FRA_SRC] = k.Src
	}
	if k.Dst != "" {
		req.Attrs[rtnl.FRA_DST] = k.Dst
	}
	req.Attrs[rtnl.FRA_TABLE] = int64(k.Table)
	if k.Priority != 0 {
		req.Attrs[rtnl.FRA_PRIORITY] = int64(k.Priority)
	}
	return req
}

func (RuleSpec) Dependents(store.Store, any) []Dependent { return nil }

func (RuleSpec) KeyString(key any) string {
	k := key.(store.RuleKey)
	return fmt.Sprintf("%s/%d/%d/%d/%s/%d/%s/%d", k.Target, k.Family, k.Priority, k.Table, k.Src, k.SrcLen, k.Dst, k.DstLen)
}

func (RuleSpec) List(s store.Store, target string, constraints map[string]any) []map[string]any {
	rows := s.ListRules(target, func(r store.RuleRow) bool {
		return matchConstraints(ruleRowToMap(r), constraints)
	})
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = ruleRowToMap(r)
	}
	return out
}

func (RuleSpec) NaturalKey(target string, row map[string]any) any {
	return store.RuleKey{
		Target:   target,
		Family:   valueOrZero(row["family"]),
		Priority: valueOrZero(row["priority"]),
		Table:    valueOrZero(row["table"]),
		Src:      fmt.Sprint(row["src"]),
		SrcLen:   valueOrZero(row["src_len"]),
		Dst:      fmt.Sprint(row["dst"]),
		DstLen:   valueOrZero(row["dst_len"]),
	}
}
