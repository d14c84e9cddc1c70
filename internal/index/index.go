// Package index implements the three EAV permutation indices (EAVT, AVET,
// VEAT) as copy-on-write btrees, and the per-clause index filter used by
// the query executor.
package index

import (
	"github.com/google/btree"

	"github.com/sogaiu/circledb/internal/eav"
)

// degree mirrors CockroachDB's transaction-pipeliner btree degree choice
// (pkg/kv/txn_interceptor_pipeliner.go): a modest fan-out tuned for the
// small in-memory sets this index actually holds, not for disk I/O.
const degree = 32

// Permutation identifies which of the three EAV orderings an Index holds.
type Permutation int

const (
	EAVT Permutation = iota
	AVET
	VEAT
)

func (p Permutation) String() string {
	switch p {
	case EAVT:
		return "EAVT"
	case AVET:
		return "AVET"
	case VEAT:
		return "VEAT"
	default:
		return "unknown"
	}
}

// Permute3 reorders any (e, a, v)-ordered triple into the permutation's
// (level1, level2, level3) order. It is generic so the query executor can
// permute a clause's predicates and captured variable names with the exact
// same logic used to permute the Values stored in the index.
func Permute3[T any](p Permutation, e, a, v T) (l1, l2, l3 T) {
	switch p {
	case EAVT:
		return e, a, v
	case AVET:
		return a, v, e
	case VEAT:
		return v, e, a
	default:
		panic("index: unknown permutation")
	}
}

// Unpermute3 is Permute3's inverse: given a (level1, level2, level3)
// triple, it recovers the (e, a, v)-ordered triple.
func Unpermute3[T any](p Permutation, l1, l2, l3 T) (e, a, v T) {
	switch p {
	case EAVT:
		return l1, l2, l3
	case AVET:
		return l3, l1, l2
	case VEAT:
		return l2, l3, l1
	default:
		panic("index: unknown permutation")
	}
}

// FromEAV reorders an (entity, attribute, value) triple into the
// permutation's (level1, level2, level3) order.
func FromEAV(p Permutation, e, a, v eav.Value) (l1, l2, l3 eav.Value) {
	return Permute3(p, e, a, v)
}

// ToEAV reorders a (level1, level2, level3) path back into (entity,
// attribute, value) order.
func ToEAV(p Permutation, l1, l2, l3 eav.Value) (e, a, v eav.Value) {
	return Unpermute3(p, l1, l2, l3)
}

type leafItem struct{ v eav.Value }

func (a leafItem) Less(than btree.Item) bool { return a.v.Less(than.(leafItem).v) }

type level2Item struct {
	key    eav.Value
	leaves *btree.BTree
}

func (a level2Item) Less(than btree.Item) bool { return a.key.Less(than.(level2Item).key) }

type level1Item struct {
	key eav.Value
	l2  *btree.BTree
}

func (a level1Item) Less(than btree.Item) bool { return a.key.Less(than.(level1Item).key) }

// Index is a three-level nested mapping over one EAV permutation, backed by
// copy-on-write btrees at every level. Because btree.BTree.Clone is O(1),
// every mutation below shares everything it does not touch with the Index
// it was derived from -- this is the structural-sharing primitive the data
// model's snapshots rely on.
type Index struct {
	Perm Permutation
	l1   *btree.BTree
}

// New returns an empty index for the given permutation.
func New(p Permutation) *Index {
	return &Index{Perm: p, l1: btree.New(degree)}
}

// Clone returns a copy-on-write fork of the index.
func (ix *Index) Clone() *Index {
	return &Index{Perm: ix.Perm, l1: ix.l1.Clone()}
}

// Insert adds the path for (e,a,v), returning a new Index; the receiver is
// left untouched. Inserting an already-present path is a no-op.
func (ix *Index) Insert(e, a, v eav.Value) *Index {
	l1k, l2k, l3k := FromEAV(ix.Perm, e, a, v)
	next := ix.Clone()

	var l2tree *btree.BTree
	if existing := next.l1.Get(level1Item{key: l1k}); existing != nil {
		l2tree = existing.(level1Item).l2.Clone()
	} else {
		l2tree = btree.New(degree)
	}

	var leaves *btree.BTree
	if existing := l2tree.Get(level2Item{key: l2k}); existing != nil {
		leaves = existing.(level2Item).leaves.Clone()
	} else {
		leaves = btree.New(degree)
	}
	leaves.ReplaceOrInsert(leafItem{v: l3k})
	l2tree.ReplaceOrInsert(level2Item{key: l2k, leaves: leaves})
	next.l1.ReplaceOrInsert(level1Item{key: l1k, l2: l2tree})
	return next
}

// Remove deletes the path for (e,a,v), returning a new Index. Removing an
// absent path is a no-op.
func (ix *Index) Remove(e, a, v eav.Value) *Index {
	l1k, l2k, l3k := FromEAV(ix.Perm, e, a, v)
	next := ix.Clone()

	l1Existing := next.l1.Get(level1Item{key: l1k})
	if l1Existing == nil {
		return next
	}
	l2tree := l1Existing.(level1Item).l2.Clone()

	l2Existing := l2tree.Get(level2Item{key: l2k})
	if l2Existing == nil {
		next.l1.ReplaceOrInsert(level1Item{key: l1k, l2: l2tree})
		return next
	}
	leaves := l2Existing.(level2Item).leaves.Clone()
	leaves.Delete(leafItem{v: l3k})

	if leaves.Len() == 0 {
		l2tree.Delete(level2Item{key: l2k})
	} else {
		l2tree.ReplaceOrInsert(level2Item{key: l2k, leaves: leaves})
	}

	if l2tree.Len() == 0 {
		next.l1.Delete(level1Item{key: l1k})
	} else {
		next.l1.ReplaceOrInsert(level1Item{key: l1k, l2: l2tree})
	}
	return next
}

// Has reports whether the path for (e,a,v) exists in the index.
func (ix *Index) Has(e, a, v eav.Value) bool {
	l1k, l2k, l3k := FromEAV(ix.Perm, e, a, v)
	l1Existing := ix.l1.Get(level1Item{key: l1k})
	if l1Existing == nil {
		return false
	}
	l2Existing := l1Existing.(level1Item).l2.Get(level2Item{key: l2k})
	if l2Existing == nil {
		return false
	}
	return l2Existing.(level2Item).leaves.Get(leafItem{v: l3k}) != nil
}

// Predicate is a single-argument boolean test over an eav.Value, applied
// while walking one index level.
type Predicate func(eav.Value) bool

// ResultPath is what Filter emits per (level1, level2) pair that has at
// least one leaf surviving p3: the two keys plus the filtered leaf set.
type ResultPath struct {
	L1, L2 eav.Value
	Leaves []eav.Value
}

// Filter walks the index applying p1 to level1 keys, p2 to level2 keys
// under each surviving level1 key, and p3 to level3 values under each
// surviving level2 key.
func (ix *Index) Filter(p1, p2, p3 Predicate) []ResultPath {
	var out []ResultPath
	ix.l1.Ascend(func(i btree.Item) bool {
		item1 := i.(level1Item)
		if !p1(item1.key) {
			return true
		}
		item1.l2.Ascend(func(j btree.Item) bool {
			item2 := j.(level2Item)
			if !p2(item2.key) {
				return true
			}
			var leaves []eav.Value
			item2.leaves.Ascend(func(k btree.Item) bool {
				v := k.(leafItem).v
				if p3(v) {
					leaves = append(leaves, v)
				}
				return true
			})
			if len(leaves) > 0 {
				out = append(out, ResultPath{L1: item1.key, L2: item2.key, Leaves: leaves})
			}
			return true
		})
		return true
	})
	return out
}

// Len reports the total number of (l1,l2,l3) paths stored in the index.
func (ix *Index) Len() int {
	n := 0
	ix.l1.Ascend(func(i btree.Item) bool {
		i.(level1Item).l2.Ascend(func(j btree.Item) bool {
			n += j.(level2Item).leaves.Len()
			return true
		})
		return true
	})
	return n
}
