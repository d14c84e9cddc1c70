package query

import "github.com/sogaiu/circledb/internal/eav"

// numeric extracts a float64 from an Int or Real value. The second return
// is false for any other Kind, in which case the comparison operators below
// return false.
func numeric(v eav.Value) (float64, bool) {
	switch v.Kind {
	case eav.KindInt:
		return float64(v.Int), true
	case eav.KindReal:
		return v.Real, true
	default:
		return 0, false
	}
}

// Gt, Lt, Gte, Lte, Eq and Neq are the binary comparison predicates the
// clause syntax `(> ?b 200)` / `(> 200 ?b)` and friends compile to.
func Gt(a, b eav.Value) bool {
	x, ok1 := numeric(a)
	y, ok2 := numeric(b)
	return ok1 && ok2 && x > y
}

func Lt(a, b eav.Value) bool {
	x, ok1 := numeric(a)
	y, ok2 := numeric(b)
	return ok1 && ok2 && x < y
}

func Gte(a, b eav.Value) bool {
	x, ok1 := numeric(a)
	y, ok2 := numeric(b)
	return ok1 && ok2 && x >= y
}

func Lte(a, b eav.Value) bool {
	x, ok1 := numeric(a)
	y, ok2 := numeric(b)
	return ok1 && ok2 && x <= y
}

func Eq(a, b eav.Value) bool {
	return a.Equal(b)
}

func Neq(a, b eav.Value) bool {
	return !a.Equal(b)
}
