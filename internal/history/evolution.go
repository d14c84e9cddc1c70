// Package history implements evolution-of: reconstructing the sequence of
// versions a single entity attribute took across a connection's snapshots.
package history

import (
	"github.com/sogaiu/circledb/internal/eav"
	"github.com/sogaiu/circledb/internal/storage"
)

// Version is one entry of an evolution-of result: the snapshot time at
// which attr took effect, paired with the attribute itself.
type Version struct {
	Time int
	Attr eav.Attribute
}

// EvolutionOf walks attrName's prev-ts chain on entity id backwards from
// snap, oldest first. It follows PrevTS pointers through snap's own
// History rather than requiring the caller to thread a connection or
// history value through separately. A missing entity or attribute at any
// point along the walk ends the chain there rather than failing the whole
// call -- per the design, only the tail already collected up to that
// point is returned.
func EvolutionOf(snap *storage.Snapshot, id, attrName string) []Version {
	entity, ok := snap.Storage.Get(id)
	if !ok {
		return nil
	}
	attr, ok := entity.Attr(attrName)
	if !ok {
		return nil
	}

	var reversed []Version
	cursor := attr
	cursorTime := attr.CurrTS
	for {
		reversed = append(reversed, Version{Time: cursorTime, Attr: cursor})
		if cursor.PrevTS == eav.NoTimestamp {
			break
		}
		prevSnap, ok := snap.At(cursor.PrevTS)
		if !ok {
			break
		}
		prevEntity, ok := prevSnap.Storage.Get(id)
		if !ok {
			break
		}
		prevAttr, ok := prevEntity.Attr(attrName)
		if !ok {
			break
		}
		cursor = prevAttr
		cursorTime = cursor.CurrTS
	}

	out := make([]Version, len(reversed))
	for i, v := range reversed {
		out[len(reversed)-1-i] = v
	}
	return out
}
