package query

import (
	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/index"
)

// Clause is one `[e-term, a-term, v-term]` line of a query's where list.
type Clause struct {
	E, A, V Term
}

// Query is the top-level `{find, where}` record accepted by Execute.
type Query struct {
	Find  []string
	Where []Clause
}

// CompiledClause is a clause reduced to three predicates in EAV order plus
// the variable name (or "") each position captures.
type CompiledClause struct {
	Preds [3]index.Predicate
	Vars  [3]string
}

// Compile reduces a Clause to a CompiledClause. It fails with
// eav.ErrMalformedClause if the clause captures no variable at all, since
// such a clause cannot participate in any join.
func Compile(c Clause) (CompiledClause, error) {
	var cc CompiledClause
	cc.Preds[0], cc.Vars[0] = c.E.compile()
	cc.Preds[1], cc.Vars[1] = c.A.compile()
	cc.Preds[2], cc.Vars[2] = c.V.compile()

	if cc.Vars[0] == "" && cc.Vars[1] == "" && cc.Vars[2] == "" {
		return CompiledClause{}, eav.ErrMalformedClause
	}
	return cc, nil
}
