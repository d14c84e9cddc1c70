// Package circledb is an in-memory, immutable, time-traveling
// entity-attribute-value database with a datalog-style query language.
// Every write produces a new, independent snapshot; readers hold a
// snapshot value and are never affected by concurrent writers.
package circledb

import (
	"context"

	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/graph"
	"github.com/sogaiu/circledb/internal/history"
	"github.com/sogaiu/circledb/internal/query"
	"github.com/sogaiu/circledb/internal/registry"
	"github.com/sogaiu/circledb/internal/storage"
)

// Re-exported value, attribute and entity types, so callers never need to
// import the internal/eav package directly.
type (
	Value       = eav.Value
	Attribute   = eav.Attribute
	Entity      = eav.Entity
	ValueType   = eav.ValueType
	Cardinality = eav.Cardinality
	AttrOption  = eav.AttrOption
)

// Value constructors.
var (
	Text   = eav.Text
	Int    = eav.Int
	Real   = eav.Real
	Bool   = eav.Bool
	Ref    = eav.Ref
	SetOf  = eav.SetOf
)

// Declared attribute types.
const (
	ValueTypeString  = eav.ValueTypeString
	ValueTypeNumber  = eav.ValueTypeNumber
	ValueTypeBoolean = eav.ValueTypeBoolean
	ValueTypeRef     = eav.ValueTypeRef
)

// Cardinalities.
const (
	CardinalitySingle   = eav.CardinalitySingle
	CardinalityMultiple = eav.CardinalityMultiple
)

// Attribute options.
var (
	Indexed         = eav.Indexed
	WithCardinality = eav.WithCardinality
)

// Update operations for UpdateEntityOp.
type UpdateOp = storage.UpdateOp

const (
	Add     = storage.Add
	Remove  = storage.Remove
	ResetTo = storage.ResetTo
)

// Op is one step of a Transact call.
type Op = storage.Op

// Snapshot is an immutable value representing the whole database at one
// logical time.
type Snapshot = storage.Snapshot

// Connection owns one named database's present snapshot and serializes
// writers through a compare-and-set retry loop.
type Connection = registry.Connection

// Errors, re-exported for callers matching with errors.Is.
var (
	ErrUnknownEntity             = eav.ErrUnknownEntity
	ErrUnknownAttribute          = eav.ErrUnknownAttribute
	ErrDuplicateEntity           = eav.ErrDuplicateEntity
	ErrMalformedClause           = eav.ErrMalformedClause
	ErrUnsupportedQuery          = eav.ErrUnsupportedQuery
	ErrTypeMismatch              = eav.ErrTypeMismatch
	ErrRemoveOnSingleCardinality = eav.ErrRemoveOnSingleCardinality
)

// Open returns the existing connection registered under name, creating and
// registering a fresh, empty one if none exists yet.
func Open(name string) *Connection { return registry.Open(name) }

// Close removes name from the process-global registry.
func Close(name string) { registry.Close(name) }

// Drop removes name from the registry and resets its history.
func Drop(name string) { registry.Drop(name) }

// MakeEntity constructs an empty entity with the given identifier.
func MakeEntity(id string) Entity { return eav.MakeEntity(id) }

// AutoEntity constructs an empty entity with no identifier. AddEntityOp
// allocates a fresh id for it on commit, via the snapshot's auto-id path.
func AutoEntity() Entity { return eav.MakeEntity("") }

// MakeAttr constructs an Attribute.
func MakeAttr(name string, value Value, typ ValueType, opts ...AttrOption) Attribute {
	return eav.MakeAttr(name, value, typ, opts...)
}

// AddEntityOp returns an Op that adds entity to the snapshot it is applied
// against.
func AddEntityOp(entity Entity) Op { return storage.AddEntityOp(entity) }

// AddEntitiesOp returns a slice of Ops, one AddEntityOp per entity, for
// passing to Transact alongside other ops in one call.
func AddEntitiesOp(entities ...Entity) []Op {
	ops := make([]Op, len(entities))
	for i, e := range entities {
		ops[i] = storage.AddEntityOp(e)
	}
	return ops
}

// UpdateEntityOp returns an Op that applies op to entity id's attrName
// attribute.
func UpdateEntityOp(id, attrName string, value Value, op UpdateOp) Op {
	return storage.UpdateEntityOp(id, attrName, value, op)
}

// RemoveEntityOp returns an Op that removes entity id.
func RemoveEntityOp(id string) Op { return storage.RemoveEntityOp(id) }

// Transact applies ops atomically against conn's present snapshot,
// appending exactly one new snapshot to its history on success.
func Transact(ctx context.Context, conn *Connection, ops ...Op) (*Snapshot, error) {
	return conn.Transact(ctx, ops...)
}

// Present returns conn's current (most recent) snapshot.
func Present(conn *Connection) *Snapshot { return conn.Present() }

// EntityAt looks up an entity by id in snap.
func EntityAt(snap *Snapshot, id string) (Entity, bool) {
	return snap.Storage.Get(id)
}

// AttrAt looks up an entity's attribute by name in snap.
func AttrAt(snap *Snapshot, id, attrName string) (Attribute, bool) {
	entity, ok := snap.Storage.Get(id)
	if !ok {
		return Attribute{}, false
	}
	return entity.Attr(attrName)
}

// ValueOfAt looks up an entity's attribute value by name in snap.
func ValueOfAt(snap *Snapshot, id, attrName string) (Value, bool) {
	attr, ok := AttrAt(snap, id, attrName)
	if !ok {
		return Value{}, false
	}
	return attr.Value, true
}

// Query types and term constructors, re-exported so callers build queries
// without importing internal/query directly.
type (
	Query         = query.Query
	Clause        = query.Clause
	Term          = query.Term
	CompiledClause = query.CompiledClause
	Row           = query.Row
	Binding       = query.Binding
)

var (
	Var            = query.Var
	Wild           = query.Wild
	Lit            = query.Lit
	Unary          = query.Unary
	Binary         = query.Binary
	BinaryLitFirst = query.BinaryLitFirst
)

// Binary predicates for clause terms.
var (
	Gt  = query.Gt
	Lt  = query.Lt
	Gte = query.Gte
	Lte = query.Lte
	Eq  = query.Eq
	Neq = query.Neq
)

// Q executes q against snap and returns the resulting rows, restricted to
// q.Find's variables.
func Q(snap *Snapshot, q Query) ([]Row, error) {
	return query.Execute(snap, q)
}

// Version is one entry of an EvolutionOf result.
type Version = history.Version

// EvolutionOf walks attrName's prev-ts chain on entity id backwards from
// snap, oldest first.
func EvolutionOf(snap *Snapshot, id, attrName string) []Version {
	return history.EvolutionOf(snap, id, attrName)
}

// Strategy and Direction select traverse-db's walk order and edge set.
type (
	Strategy  = graph.Strategy
	Direction = graph.Direction
)

const (
	BFS      = graph.BFS
	DFS      = graph.DFS
	Outgoing = graph.Outgoing
	Incoming = graph.Incoming
)

// TraverseDB walks the reference graph from rootID against snap and
// returns the reachable entities in visit order.
func TraverseDB(snap *Snapshot, rootID string, strategy Strategy, direction Direction) []Entity {
	return graph.Traverse(snap, rootID, strategy, direction)
}

// TraverseDBConcurrent is TraverseDB with per-level edge resolution fanned
// out across goroutines, for wide fan-out graphs.
func TraverseDBConcurrent(ctx context.Context, snap *Snapshot, rootID string, direction Direction) ([]Entity, error) {
	return graph.TraverseConcurrent(ctx, snap, rootID, direction)
}
