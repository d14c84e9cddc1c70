// Package query implements the datalog-style query compiler and executor:
// clause terms compile into predicate closures plus captured variable
// names, and Execute drives the four-stage join algorithm over a
// Snapshot's indices.
package query

import (
	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/index"
)

// Wildcard is the reserved variable token that matches anything and is
// never bound.
const Wildcard = "_"

// UnaryPredFn is a user-supplied unary predicate, e.g. the body of
// `(even? ?x)`.
type UnaryPredFn func(eav.Value) bool

// BinaryPredFn is a user-supplied binary predicate, e.g. the body of `>`
// in `(> ?b 200)`. It is always called as fn(left, right) regardless of
// which side the literal or the variable appeared on in source; Term
// captures which side held the variable so the executor curries
// correctly.
type BinaryPredFn func(left, right eav.Value) bool

type termKind int

const (
	termVar termKind = iota
	termWild
	termLit
	termUnaryPred
	termBinaryPred
)

// Term is one position of a clause: [e-term, a-term, v-term]. Build one
// with Var, Wild, Lit, Unary, or Binary.
type Term struct {
	kind termKind

	varName string
	lit     eav.Value

	unaryFn UnaryPredFn

	binaryFn      BinaryPredFn
	binaryLit     eav.Value
	binaryVarLeft bool
}

// Var builds a bare variable term, e.g. `?id`. The reserved name "_" is
// treated as Wild.
func Var(name string) Term {
	if name == Wildcard {
		return Wild()
	}
	return Term{kind: termVar, varName: name}
}

// Wild builds the wildcard term: matches anything, binds nothing.
func Wild() Term {
	return Term{kind: termWild}
}

// Lit builds a literal value term.
func Lit(v eav.Value) Term {
	return Term{kind: termLit, lit: v}
}

// Unary builds a unary predicate application term, e.g. `(pred ?x)`.
func Unary(fn UnaryPredFn, varName string) Term {
	return Term{kind: termUnaryPred, unaryFn: fn, varName: varName}
}

// Binary builds a binary predicate application term with the variable on
// the left, e.g. `(> ?b 200)`.
func Binary(fn BinaryPredFn, varName string, lit eav.Value) Term {
	return Term{kind: termBinaryPred, binaryFn: fn, binaryVarLeft: true, varName: varName, binaryLit: lit}
}

// BinaryLitFirst builds a binary predicate application term with the
// variable on the right, e.g. `(> 200 ?b)`.
func BinaryLitFirst(fn BinaryPredFn, lit eav.Value, varName string) Term {
	return Term{kind: termBinaryPred, binaryFn: fn, binaryVarLeft: false, varName: varName, binaryLit: lit}
}

// compile turns a term into a predicate plus the variable name it
// captures, or "" if it captures none.
func (t Term) compile() (index.Predicate, string) {
	switch t.kind {
	case termVar:
		return func(eav.Value) bool { return true }, t.varName
	case termWild:
		return func(eav.Value) bool { return true }, ""
	case termLit:
		lit := t.lit
		return func(v eav.Value) bool { return v.Equal(lit) }, ""
	case termUnaryPred:
		fn := t.unaryFn
		return safeUnary(fn), t.varName
	case termBinaryPred:
		fn := t.binaryFn
		lit := t.binaryLit
		if t.binaryVarLeft {
			return safeBinary(fn, lit, true), t.varName
		}
		return safeBinary(fn, lit, false), t.varName
	default:
		return func(eav.Value) bool { return false }, ""
	}
}

// safeUnary wraps a user-supplied predicate so that a panic during
// evaluation (a type error against a heterogeneous leaf) is treated as
// false rather than aborting the whole query, per the spec's error policy
// for per-clause predicate evaluation.
func safeUnary(fn UnaryPredFn) index.Predicate {
	return func(v eav.Value) (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		return fn(v)
	}
}

func safeBinary(fn BinaryPredFn, lit eav.Value, varLeft bool) index.Predicate {
	return func(v eav.Value) (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		if varLeft {
			return fn(v, lit)
		}
		return fn(lit, v)
	}
}
