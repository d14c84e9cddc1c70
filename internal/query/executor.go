package query

import (
	"sort"

	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/index"
	"github.com/sogaiu/circledb/internal/storage"
)

// Binding is one (variable, value) pair in a result Row.
type Binding struct {
	Var   string
	Value eav.Value
}

// Row is one result of a query: the set of bindings for that row's
// variables, restricted to those named in the query's find list.
type Row []Binding

// Execute runs q against snap's indices: compiles every clause, selects
// the single join variable and its index, filters each clause against
// that index, intersects leaf sets by clause-membership frequency, joins
// the surviving per-clause bindings by join value, and projects down to
// the find list.
func Execute(snap *storage.Snapshot, q Query) ([]Row, error) {
	if len(q.Where) == 0 {
		return nil, eav.ErrMalformedClause
	}

	compiled := make([]CompiledClause, len(q.Where))
	for i, c := range q.Where {
		cc, err := Compile(c)
		if err != nil {
			return nil, err
		}
		compiled[i] = cc
	}

	perm, joinVar, err := selectJoinIndex(compiled)
	if err != nil {
		return nil, err
	}

	type clauseResult struct {
		varL1, varL2, varL3 string
		paths               []index.ResultPath
	}
	results := make([]clauseResult, len(compiled))
	for i, cc := range compiled {
		ix := snap.IndexFor(perm)
		p1, p2, p3 := index.Permute3(perm, cc.Preds[0], cc.Preds[1], cc.Preds[2])
		v1, v2, v3 := index.Permute3(perm, cc.Vars[0], cc.Vars[1], cc.Vars[2])
		results[i] = clauseResult{
			varL1: v1, varL2: v2, varL3: v3,
			paths: ix.Filter(p1, p2, p3),
		}
	}

	// Join by frequency: a join value survives only if every clause
	// produced at least one leaf equal to it.
	counts := map[string]int{}
	for _, r := range results {
		seen := map[string]bool{}
		for _, p := range r.paths {
			for _, leaf := range p.Leaves {
				seen[leaf.Key()] = true
			}
		}
		for k := range seen {
			counts[k]++
		}
	}
	kept := map[string]bool{}
	for k, c := range counts {
		if c == len(results) {
			kept[k] = true
		}
	}

	type partialGroup struct {
		joinValue eav.Value
		binds     []map[string]eav.Value
	}

	partials := make([]map[string]*partialGroup, len(results))
	for i, r := range results {
		m := map[string]*partialGroup{}
		for _, p := range r.paths {
			for _, leaf := range p.Leaves {
				key := leaf.Key()
				if !kept[key] {
					continue
				}
				b := map[string]eav.Value{}
				if r.varL1 != "" && r.varL1 != joinVar {
					b[r.varL1] = p.L1
				}
				if r.varL2 != "" && r.varL2 != joinVar {
					b[r.varL2] = p.L2
				}
				if r.varL3 != "" && r.varL3 != joinVar {
					b[r.varL3] = leaf
				}
				g, ok := m[key]
				if !ok {
					g = &partialGroup{joinValue: leaf}
					m[key] = g
				}
				g.binds = append(g.binds, b)
			}
		}
		partials[i] = m
	}

	type rowState struct {
		joinValue eav.Value
		vars      map[string]eav.Value
	}
	var rows []rowState
	for i := range results {
		if i == 0 {
			for _, g := range partials[0] {
				for _, b := range g.binds {
					vars := cloneVars(b)
					rows = append(rows, rowState{joinValue: g.joinValue, vars: vars})
				}
			}
			continue
		}
		var merged []rowState
		for _, row := range rows {
			g, ok := partials[i][row.joinValue.Key()]
			if !ok {
				continue
			}
			for _, b := range g.binds {
				vars := cloneVars(row.vars)
				for k, v := range b {
					vars[k] = v
				}
				merged = append(merged, rowState{joinValue: row.joinValue, vars: vars})
			}
		}
		rows = merged
	}

	find := map[string]bool{}
	for _, f := range q.Find {
		if f != Wildcard {
			find[f] = true
		}
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		full := cloneVars(r.vars)
		full[joinVar] = r.joinValue
		var names []string
		for name := range full {
			if find[name] {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		row := make(Row, 0, len(names))
		for _, name := range names {
			row = append(row, Binding{Var: name, Value: full[name]})
		}
		out = append(out, row)
	}
	return out, nil
}

func cloneVars(m map[string]eav.Value) map[string]eav.Value {
	out := make(map[string]eav.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// selectJoinIndex implements §4.3 stage 1: the variable-name triples of
// every compiled clause are collapsed column-wise (in e,a,v order); the
// first column on which every clause agrees on the same non-empty variable
// name is the join-variable position. That position is mapped to the
// index which places the join variable at its third (leaf) level: e-position
// to AVET, a-position to VEAT, v-position to EAVT.
func selectJoinIndex(clauses []CompiledClause) (index.Permutation, string, error) {
	perms := [3]index.Permutation{index.AVET, index.VEAT, index.EAVT}
	for col := 0; col < 3; col++ {
		name := clauses[0].Vars[col]
		if name == "" {
			continue
		}
		agree := true
		for _, c := range clauses[1:] {
			if c.Vars[col] != name {
				agree = false
				break
			}
		}
		if agree {
			return perms[col], name, nil
		}
	}
	return 0, "", eav.ErrUnsupportedQuery
}
