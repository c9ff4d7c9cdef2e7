package object

import (
	"fmt"

	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// SourceSpec is the sources table's Spec: a read facade over the
// registry's persisted descriptors. Get/List/Wait and the report formats
// work like any other table, but source lifecycle changes go through the
// registry's Add/Remove/Restart, never through an object commit — there
// is no kernel object behind a sources row, so MakeReq has nothing to
// build and a commit against this table fails at the request step.
type SourceSpec struct{}

func (SourceSpec) Table() string { return "sources" }

// Family is zero: sources are not an RTNL message family.
func (SourceSpec) Family() rtnl.Family { return 0 }

func (SourceSpec) CompleteKey(_ store.Store, target string, in any) (any, error) {
	switch v := in.(type) {
	case nil:
		return target, nil
	case string:
		return v, nil
	case map[string]any:
		if t, ok := v["target"].(string); ok && t != "" {
			return t, nil
		}
		return target, nil
	default:
		return nil, fmt.Errorf("ndb: sources: cannot complete key from %T", in)
	}
}

func (SourceSpec) Load(s store.Store, key any) (map[string]any, bool) {
	row, ok := s.GetSource(key.(string))
	if !ok {
		return nil, false
	}
	return sourceRowToMap(row), true
}

func sourceRowToMap(r store.SourceRow) map[string]any {
	return map[string]any{
		"target": r.Target,
		"kind":   r.Kind,
	}
}

func (SourceSpec) MakeReq(rtnl.Action, any, map[string]any, State) rtnl.Request {
	return rtnl.Request{}
}

func (SourceSpec) Dependents(store.Store, any) []Dependent { return nil }

func (SourceSpec) KeyString(key any) string { return key.(string) }

func (SourceSpec) List(s store.Store, target string, constraints map[string]any) []map[string]any {
	var out []map[string]any
	for _, r := range s.ListSources() {
		if target != "" && r.Target != target {
			continue
		}
		m := sourceRowToMap(r)
		if matchConstraints(m, constraints) {
			out = append(out, m)
		}
	}
	return out
}

func (SourceSpec) NaturalKey(_ string, row map[string]any) any {
	return fmt.Sprint(row["target"])
}
