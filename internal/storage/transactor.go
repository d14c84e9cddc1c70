package storage

import (
	"github.com/google/uuid"

	"github.com/sogaiu/circledb/internal/eav"
)

// UpdateOp selects the semantics of UpdateEntityOp for multi-cardinality
// attributes. For single-cardinality attributes, Add and ResetTo are
// equivalent (replace); Remove is rejected (see
// eav.ErrRemoveOnSingleCardinality).
type UpdateOp int

const (
	Add UpdateOp = iota
	Remove
	ResetTo
)

// Op is one step of a Transact call: a function from a working snapshot to
// its successor. newTime is the snapshot time the whole transact will
// commit at; every attribute touched by an Op is stamped with CurrTS =
// newTime, regardless of how many Ops precede it in the same transact.
type Op func(working *Snapshot, newTime int) (*Snapshot, error)

// AddEntityOp returns an Op that adds entity to storage and indexes its
// indexed attributes. Fails with eav.ErrDuplicateEntity if entity.ID is
// already present. If entity.ID is empty, an id is allocated from the
// auto-id path: a fresh UUID, with the snapshot's TopID counter advanced to
// record the allocation.
func AddEntityOp(entity eav.Entity) Op {
	return func(working *Snapshot, newTime int) (*Snapshot, error) {
		next := *working
		id := entity.ID
		if id == "" {
			id = uuid.New().String()
			next.TopID++
		}
		if working.Storage.Has(id) {
			return nil, eav.NewDuplicateEntity(id)
		}
		stamped := eav.MakeEntity(id)
		for name, attr := range entity.Attrs {
			if err := validateValue(attr.Value, attr.Type); err != nil {
				return nil, eav.NewTypeMismatch(name, attr.Type, attr.Value.Kind)
			}
			attr.PrevTS = eav.NoTimestamp
			attr.CurrTS = newTime
			stamped = stamped.WithAttr(attr)
			if attr.Indexed {
				next = *indexAttr(&next, id, attr)
			}
		}
		next.Storage = next.Storage.Put(stamped)
		return &next, nil
	}
}

// UpdateEntityOp returns an Op that applies op to entity id's attrName
// attribute with the given value. Fails with eav.ErrUnknownEntity or
// eav.ErrUnknownAttribute, or eav.ErrRemoveOnSingleCardinality per the
// design's resolution of that open question.
func UpdateEntityOp(id, attrName string, value eav.Value, op UpdateOp) Op {
	return func(working *Snapshot, newTime int) (*Snapshot, error) {
		entity, ok := working.Storage.Get(id)
		if !ok {
			return nil, eav.NewUnknownEntity(id)
		}
		attr, ok := entity.Attr(attrName)
		if !ok {
			return nil, eav.NewUnknownAttribute(id, attrName)
		}

		if attr.Cardinality == eav.CardinalitySingle && op == Remove {
			return nil, eav.ErrRemoveOnSingleCardinality
		}

		newValue, err := applyUpdate(attr, value, op)
		if err != nil {
			return nil, err
		}
		if err := validateValue(newValue, attr.Type); err != nil {
			return nil, eav.NewTypeMismatch(attrName, attr.Type, newValue.Kind)
		}

		next := *working
		if attr.Indexed {
			next = *deindexAttr(&next, id, attr)
		}

		newAttr := attr
		newAttr.Value = newValue
		newAttr.PrevTS = attr.CurrTS
		if attr.CurrTS == newTime {
			// Already touched earlier in this same transact: keep that
			// version's predecessor so PrevTS stays strictly earlier.
			newAttr.PrevTS = attr.PrevTS
		}
		newAttr.CurrTS = newTime

		if attr.Indexed {
			next = *indexAttr(&next, id, newAttr)
		}
		next.Storage = next.Storage.Put(entity.WithAttr(newAttr))
		return &next, nil
	}
}

// RemoveEntityOp returns an Op that removes entity id from storage and all
// of its indexed attributes' paths from the three indices. References held
// by other entities are left dangling, per the spec's reference-integrity
// non-invariant.
func RemoveEntityOp(id string) Op {
	return func(working *Snapshot, newTime int) (*Snapshot, error) {
		entity, ok := working.Storage.Get(id)
		if !ok {
			return nil, eav.NewUnknownEntity(id)
		}
		next := *working
		for _, attr := range entity.Attrs {
			if attr.Indexed {
				next = *deindexAttr(&next, id, attr)
			}
		}
		next.Storage = next.Storage.Delete(id)
		return &next, nil
	}
}

// Transact applies ops in order against snap, all as one logical step:
// CurrTime advances by exactly one regardless of len(ops), and if any op
// fails the whole call returns nil and that op's error; snap itself is
// never modified.
func Transact(snap *Snapshot, ops ...Op) (*Snapshot, error) {
	newTime := snap.CurrTime + 1
	working := snap
	for _, op := range ops {
		next, err := op(working, newTime)
		if err != nil {
			return nil, err
		}
		working = next
	}
	final := *working
	final.CurrTime = newTime
	final.History = append(append([]*Snapshot(nil), snap.History...), &final)
	return &final, nil
}

func indexAttr(snap *Snapshot, id string, attr eav.Attribute) *Snapshot {
	next := *snap
	e := eav.Text(id)
	a := eav.Text(attr.Name)
	for _, v := range attr.Value.Members() {
		next.EAVT = next.EAVT.Insert(e, a, v)
		next.AVET = next.AVET.Insert(e, a, v)
		next.VEAT = next.VEAT.Insert(e, a, v)
	}
	return &next
}

func deindexAttr(snap *Snapshot, id string, attr eav.Attribute) *Snapshot {
	next := *snap
	e := eav.Text(id)
	a := eav.Text(attr.Name)
	for _, v := range attr.Value.Members() {
		next.EAVT = next.EAVT.Remove(e, a, v)
		next.AVET = next.AVET.Remove(e, a, v)
		next.VEAT = next.VEAT.Remove(e, a, v)
	}
	return &next
}

// applyUpdate computes the new attribute value for op against the current
// value. For single-cardinality attributes, Add and ResetTo both replace.
// For multi-cardinality, Add unions, Remove subtracts (absent members are a
// no-op), and ResetTo replaces the whole set.
func applyUpdate(attr eav.Attribute, value eav.Value, op UpdateOp) (eav.Value, error) {
	if attr.Cardinality == eav.CardinalitySingle {
		return value, nil
	}

	current := attr.Value.Members()
	switch op {
	case ResetTo:
		return eav.SetOf(value.Members()...), nil
	case Add:
		return eav.SetOf(append(append([]eav.Value(nil), current...), value.Members()...)...), nil
	case Remove:
		toRemove := value.Members()
		kept := make([]eav.Value, 0, len(current))
		for _, m := range current {
			drop := false
			for _, r := range toRemove {
				if m.Equal(r) {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, m)
			}
		}
		return eav.SetOf(kept...), nil
	default:
		return eav.Value{}, eav.ErrMalformedClause
	}
}

func validateValue(v eav.Value, t eav.ValueType) error {
	for _, m := range v.Members() {
		switch t {
		case eav.ValueTypeString:
			if m.Kind != eav.KindText {
				return eav.ErrTypeMismatch
			}
		case eav.ValueTypeNumber:
			if m.Kind != eav.KindInt && m.Kind != eav.KindReal {
				return eav.ErrTypeMismatch
			}
		case eav.ValueTypeBoolean:
			if m.Kind != eav.KindBool {
				return eav.ErrTypeMismatch
			}
		case eav.ValueTypeRef:
			if m.Kind != eav.KindRef {
				return eav.ErrTypeMismatch
			}
		default:
			return eav.ErrTypeMismatch
		}
	}
	return nil
}
