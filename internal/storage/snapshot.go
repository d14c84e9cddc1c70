package storage

import (
	"github.com/sogaiu/circledb/internal/index"
)

// Snapshot is an immutable value representing the whole database at one
// logical time. Every write produces a new Snapshot; no existing Snapshot
// is ever mutated.
type Snapshot struct {
	Storage *Storage
	EAVT    *index.Index
	AVET    *index.Index
	VEAT    *index.Index
	// TopID backs the auto-id allocation path for MakeEntity callers who
	// don't supply an explicit identifier.
	TopID int64
	// CurrTime is this snapshot's 0-based position in its connection's
	// history.
	CurrTime int
	// History is the full oldest-first chain of snapshots ending in this
	// one: History[CurrTime] is this snapshot itself. It is what lets
	// EvolutionOf walk PrevTS pointers back to an ancestor snapshot's
	// stored attribute version using nothing but the snapshot value the
	// caller already has in hand, matching the external interface's
	// single-snapshot evolution-of signature. Every Transact call extends
	// it with a freshly allocated backing array, so earlier snapshots'
	// History slices are never aliased or mutated.
	History []*Snapshot
}

// Empty returns the initial, empty snapshot at CurrTime 0.
func Empty() *Snapshot {
	s := &Snapshot{
		Storage:  NewStorage(),
		EAVT:     index.New(index.EAVT),
		AVET:     index.New(index.AVET),
		VEAT:     index.New(index.VEAT),
		TopID:    0,
		CurrTime: 0,
	}
	s.History = []*Snapshot{s}
	return s
}

// At returns the ancestor (or self) snapshot at 0-based history position t.
func (s *Snapshot) At(t int) (*Snapshot, bool) {
	if t < 0 || t >= len(s.History) {
		return nil, false
	}
	return s.History[t], true
}

// IndexFor returns the snapshot's index for the requested permutation.
func (s *Snapshot) IndexFor(p index.Permutation) *index.Index {
	switch p {
	case index.EAVT:
		return s.EAVT
	case index.AVET:
		return s.AVET
	case index.VEAT:
		return s.VEAT
	default:
		panic("storage: unknown permutation")
	}
}
